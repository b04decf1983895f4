package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"answer-eval/internal/embeddings"
)

type bankFile struct {
	Questions []Question `yaml:"questions"`
}

func bankExt(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json", ".yaml", ".yml":
		return ext, nil
	}
	return "", fmt.Errorf("unsupported question bank format %q (want .json, .yaml or .yml)", filepath.Ext(path))
}

// LoadBank reads a question bank from a .json, .yaml or .yml file. The file
// holds either a list of questions or an object with a "questions" list. Key
// points may omit embeddings; such questions must go through authoring before
// they can be published.
func LoadBank(path string) ([]Question, error) {
	if _, err := bankExt(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	return ParseBank(data)
}

// ParseBank decodes question bank contents. JSON is accepted as a YAML subset.
func ParseBank(data []byte) ([]Question, error) {
	var list []Question
	if err := yaml.Unmarshal(data, &list); err != nil {
		var wrapped bankFile
		if werr := yaml.Unmarshal(data, &wrapped); werr != nil {
			return nil, fmt.Errorf("parse question bank: %w", err)
		}
		list = wrapped.Questions
	}
	seen := make(map[string]struct{}, len(list))
	for i := range list {
		q := &list[i]
		q.ID = strings.TrimSpace(q.ID)
		if q.ID == "" {
			return nil, fmt.Errorf("question bank entry %d: missing question_id", i)
		}
		if _, dup := seen[q.ID]; dup {
			return nil, fmt.Errorf("question bank: duplicate question_id %q", q.ID)
		}
		seen[q.ID] = struct{}{}
		for j := range q.KeyPoints {
			if q.KeyPoints[j].Weight == 0 {
				q.KeyPoints[j].Weight = DefaultWeight
			}
			if !ValidWeight(q.KeyPoints[j].Weight) {
				return nil, fmt.Errorf("question bank: question %s key point %d has invalid weight %v",
					q.ID, j, q.KeyPoints[j].Weight)
			}
		}
	}
	return list, nil
}

// HasEmbeddings reports whether every key point of q carries an embedding.
func (q Question) HasEmbeddings() bool {
	if len(q.KeyPoints) == 0 {
		return false
	}
	for _, kp := range q.KeyPoints {
		if len(kp.Embedding) == 0 {
			return false
		}
	}
	return true
}

// SaveBank writes questions, embeddings included, in the format named by the
// file extension. The file is replaced atomically.
func SaveBank(path string, questions []Question) error {
	ext, err := bankExt(path)
	if err != nil {
		return err
	}
	var data []byte
	if ext == ".json" {
		data, err = json.MarshalIndent(questions, "", "  ")
	} else {
		data, err = yaml.Marshal(bankFile{Questions: questions})
	}
	if err != nil {
		return fmt.Errorf("encode question bank: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write question bank: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write question bank: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write question bank: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write question bank: %w", err)
	}
	return nil
}

// ApplyEmbeddings fills in key point embeddings of bank questions from a
// previously saved copy. A cached question is used only when it was embedded
// with model, is itself publishable and has exactly the same key point texts
// and weights; anything else is left for re-embedding. It returns the number
// of questions updated.
func ApplyEmbeddings(bank, cached []Question, model string) int {
	byID := make(map[string]Question, len(cached))
	for _, c := range cached {
		byID[c.ID] = c
	}
	applied := 0
	for i := range bank {
		q := &bank[i]
		if q.HasEmbeddings() && q.EmbeddingModel == model {
			continue
		}
		c, ok := byID[q.ID]
		if !ok || c.EmbeddingModel != model || !sameKeyPoints(*q, c) || c.Validate() != nil {
			continue
		}
		for j := range q.KeyPoints {
			q.KeyPoints[j].Embedding = append(embeddings.Vector(nil), c.KeyPoints[j].Embedding...)
		}
		q.EmbeddingModel = model
		applied++
	}
	return applied
}

func sameKeyPoints(a, b Question) bool {
	if len(a.KeyPoints) != len(b.KeyPoints) {
		return false
	}
	for i := range a.KeyPoints {
		if strings.TrimSpace(a.KeyPoints[i].Text) != strings.TrimSpace(b.KeyPoints[i].Text) ||
			a.KeyPoints[i].Weight != b.KeyPoints[i].Weight {
			return false
		}
	}
	return true
}
