package knowledge

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// sourceFile is the YAML layout for curated knowledge:
//
//	documents:
//	  - name: checkout
//	    content: Checkout is at 11:00 AM.
type sourceFile struct {
	Documents []struct {
		Name    string `yaml:"name"`
		Content string `yaml:"content"`
	} `yaml:"documents"`
}

var textExts = map[string]bool{".md": true, ".markdown": true, ".txt": true}

// ReadDocuments collects knowledge documents from files and directories.
// YAML files contribute one document per entry; Markdown and text files
// contribute one document each, named after the file. Directories are
// walked in lexical order.
func ReadDocuments(paths []string) ([]Document, error) {
	var docs []Document
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			d, err := readFile(root)
			if err != nil {
				return nil, err
			}
			docs = append(docs, d...)
			continue
		}

		var files []string
		err = filepath.WalkDir(root, func(p string, e fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !e.IsDir() && isSource(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
		sort.Strings(files)
		for _, f := range files {
			d, err := readFile(f)
			if err != nil {
				return nil, err
			}
			docs = append(docs, d...)
		}
	}
	return docs, nil
}

func isSource(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml" || textExts[ext]
}

func readFile(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return []Document{{Name: filepath.Base(path), Content: string(data)}}, nil
	}

	var sf sourceFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	docs := make([]Document, 0, len(sf.Documents))
	for i, d := range sf.Documents {
		name := d.Name
		if name == "" {
			name = fmt.Sprintf("%s#%d", filepath.Base(path), i)
		}
		docs = append(docs, Document{Name: name, Content: d.Content})
	}
	return docs, nil
}
