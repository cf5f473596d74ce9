// Package watcher reloads the reposync configuration when its file changes.
//
// The parent directory is watched with fsnotify rather than the file itself,
// so editors that save by writing a temp file and renaming it over the
// original are still seen. Bursts of events are debounced into one reload.
//
// Usage:
//
//	w, err := watcher.NewConfigWatcher(path, load, onReload, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go w.Start(ctx)
package watcher
