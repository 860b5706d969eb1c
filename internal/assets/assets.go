// Package assets embeds the static files and writes them to the static root.
package assets

import (
	"bytes"
	"embed"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

//go:embed static
var embedded embed.FS

// Files returns the embedded static tree rooted at "static"
func Files() fs.FS {
	sub, err := fs.Sub(embedded, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// CollectResult counts what a collection run did
type CollectResult struct {
	Copied    int `json:"copied"`
	Unchanged int `json:"unchanged"`
}

// Collect writes every embedded file under root. Files whose content already
// matches are left alone, so running it twice is a no-op.
func Collect(root string) (*CollectResult, error) {
	return CollectFS(Files(), root)
}

// CollectFS writes every file of src under root
func CollectFS(src fs.FS, root string) (*CollectResult, error) {
	if root == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Static root is not configured")
	}
	logger := utils.Component("assets")
	result := &CollectResult{}

	err := fs.WalkDir(src, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(root, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		data, err := fs.ReadFile(src, path)
		if err != nil {
			return err
		}
		if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, data) {
			result.Unchanged++
			return nil
		}

		if err := os.WriteFile(target, data, 0o644); err != nil {
			return err
		}
		result.Copied++
		return nil
	})
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to collect static files", err.Error())
	}

	logger.WithFields(logrus.Fields{
		"root":      root,
		"copied":    result.Copied,
		"unchanged": result.Unchanged,
	}).Info("Static files collected")
	return result, nil
}
