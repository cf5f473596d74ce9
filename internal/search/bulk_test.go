package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/reposync/internal/storage"
)

func TestBuildDocuments_PreservesOrder(t *testing.T) {
	var components []*storage.Component
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		components = append(components, component(id, id))
	}

	// Given: documents that finish out of order
	doc := func(c *storage.Component) (string, error) {
		if c.ID == "a" {
			time.Sleep(10 * time.Millisecond)
		}
		return string(c.ID), nil
	}

	docs, err := buildDocuments(context.Background(), "r", components, componentID, doc, 4)
	require.NoError(t, err)

	// Then: output follows input order
	var ids []string
	for _, d := range docs {
		ids = append(ids, d.ID)
		assert.Equal(t, d.ID, d.Body)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, ids)
}

func TestBuildDocuments_BoundsWorkers(t *testing.T) {
	var components []*storage.Component
	for i := 0; i < 20; i++ {
		components = append(components, component(string(rune('a'+i)), "x"))
	}

	var inFlight, peak atomic.Int32
	doc := func(c *storage.Component) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return "{}", nil
	}

	docs, err := buildDocuments(context.Background(), "r", components, componentID, doc, 3)
	require.NoError(t, err)
	assert.Len(t, docs, 20)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestBuildDocuments_SkipsFailures(t *testing.T) {
	components := []*storage.Component{component("a", "a"), component("b", "b")}
	doc := func(c *storage.Component) (string, error) {
		if c.ID == "a" {
			return "", errors.New("boom")
		}
		return "{}", nil
	}

	docs, err := buildDocuments(context.Background(), "r", components, componentID, doc, 2)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0].ID)
}

func TestBuildDocuments_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := buildDocuments(ctx, "r", []*storage.Component{component("a", "a")}, componentID, componentDoc, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
