package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/index"
	"github.com/Aman-CERP/reposync/internal/output"
	"github.com/Aman-CERP/reposync/internal/storage"
)

// importFile is the YAML layout accepted by the import command.
type importFile struct {
	Components []importComponent `yaml:"components"`
}

type importComponent struct {
	ID         string         `yaml:"id"`
	Group      string         `yaml:"group"`
	Name       string         `yaml:"name"`
	Version    string         `yaml:"version"`
	Attributes map[string]any `yaml:"attributes"`
	Assets     []importAsset  `yaml:"assets"`
}

type importAsset struct {
	Name        string            `yaml:"name"`
	ContentType string            `yaml:"content_type"`
	Size        int64             `yaml:"size"`
	Checksums   map[string]string `yaml:"checksums"`
	Attributes  map[string]any    `yaml:"attributes"`
}

func newImportCmd() *cobra.Command {
	var noIndex bool

	cmd := &cobra.Command{
		Use:   "import <repository> <file.yaml>",
		Short: "Store components from a YAML file and index them",
		Long: `Import saves the components listed in a YAML file into the repository's
storage bucket, then indexes them in one batch.

  components:
    - group: org.example
      name: core
      version: 1.0.0
      assets:
        - name: org/example/core/1.0.0/core-1.0.0.jar
          content_type: application/java-archive
          size: 1024
          checksums: {sha1: 3f786850e387550fdab836ed7e6dc881de23001b}

Components take the repository's format. An id replaces the stored component
with that id; without one a new id is assigned.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd, args[0], args[1], noIndex)
		},
	}

	cmd.Flags().BoolVar(&noIndex, "no-index", false, "Only store the components, leave the index untouched")

	return cmd
}

func readImportFile(path string) (*importFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rserrors.New(rserrors.ErrCodeFileNotFound, fmt.Sprintf("cannot read %s", path), err)
	}

	var file importFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, rserrors.ValidationError(fmt.Sprintf("invalid import file %s", path), err)
	}
	for i, c := range file.Components {
		if c.Name == "" {
			return nil, rserrors.ValidationError(fmt.Sprintf("components[%d].name is required", i), nil)
		}
	}
	return &file, nil
}

func runImport(ctx context.Context, cmd *cobra.Command, name, path string, noIndex bool) error {
	file, err := readImportFile(path)
	if err != nil {
		return err
	}

	_, mgr, err := openRepositories(ctx)
	if err != nil {
		return err
	}
	defer closeRepositories(mgr)

	f, err := mgr.Get(name)
	if err != nil {
		return err
	}
	format := f.Repository().Format

	bucket, err := mgr.Store().EnsureBucket(ctx, name)
	if err != nil {
		return err
	}

	events := make([]index.ComponentEvent, 0, len(file.Components))
	for _, c := range file.Components {
		component := &storage.Component{
			ID:         storage.EntityID(c.ID),
			Format:     format,
			Group:      c.Group,
			Name:       c.Name,
			Version:    c.Version,
			Attributes: c.Attributes,
		}
		assets := make([]*storage.Asset, 0, len(c.Assets))
		for _, a := range c.Assets {
			assets = append(assets, &storage.Asset{
				Name:        a.Name,
				Format:      format,
				ContentType: a.ContentType,
				Size:        a.Size,
				Checksums:   a.Checksums,
				Attributes:  a.Attributes,
			})
		}

		id, err := mgr.Store().SaveComponent(ctx, bucket, component, assets)
		if err != nil {
			return err
		}
		events = append(events, index.ComponentEvent{Repository: name, ComponentID: id, Operation: index.OpCreate})
	}

	out := output.New(cmd.OutOrStdout())
	if noIndex {
		out.Successf("%s: %d component(s) stored", name, len(events))
		return nil
	}

	result, err := index.NewCoordinator(mgr.Lookup).HandleEvents(ctx, events)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		out.Warningf("%s: %d component(s) stored, indexing failed", name, len(events))
		return rserrors.IndexError(fmt.Sprintf("failed to index imported components of %s", name), nil)
	}
	out.Successf("%s: %d component(s) stored and indexed", name, result.Indexed)
	return nil
}
