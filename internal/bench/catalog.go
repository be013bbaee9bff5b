package bench

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// ModelInfo identifies a model file. Path is resolved, not serialized.
type ModelInfo struct {
	ID           string `json:"modelID"`
	FileName     string `json:"fileName"`
	LastModified string `json:"lastModified,omitempty"`
	Quantization string `json:"quantization,omitempty"`
	FileSize     int64  `json:"fileSize,omitempty"`
	Path         string `json:"-"`
}

func (m ModelInfo) Valid() bool { return m.ID != "" && m.FileName != "" }

// LoadCatalog reads a JSON array of models and resolves each FileName
// against base. Relative FileNames with an empty base stay relative.
func LoadCatalog(path, base string) ([]ModelInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var models []ModelInfo
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for i := range models {
		if !models[i].Valid() {
			return nil, fmt.Errorf("catalog %s: entry %d needs modelID and fileName", path, i)
		}
		models[i].Path = Resolve(base, models[i].FileName)
	}
	return models, nil
}

// Resolve joins name onto base unless name is absolute.
func Resolve(base, name string) string {
	if filepath.IsAbs(name) || base == "" {
		return name
	}
	return filepath.Join(base, name)
}

// FromPath describes a single model file.
func FromPath(path string) ModelInfo {
	info := ModelInfo{
		ID:       trimExt(filepath.Base(path)),
		FileName: filepath.Base(path),
		Path:     path,
	}
	if st, err := os.Stat(path); err == nil {
		info.FileSize = st.Size()
		info.LastModified = st.ModTime().UTC().Format("2006-01-02T15:04:05Z")
	}
	return info
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
