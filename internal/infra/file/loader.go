package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/errgroup"

	"quizbot-service/internal/domain"
)

const maxConcurrent = 8

// questionSetSchema accepts either a bare array of questions or an object with a delay.
const questionSetSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$defs": {
    "question": {
      "type": "object",
      "required": ["prompt", "options", "answer"],
      "properties": {
        "prompt": {"type": "string", "minLength": 1},
        "options": {"type": "array", "minItems": 2, "items": {"type": "string", "minLength": 1}},
        "answer": {"type": "integer", "minimum": 0}
      }
    },
    "questions": {"type": "array", "items": {"$ref": "#/$defs/question"}}
  },
  "oneOf": [
    {"$ref": "#/$defs/questions"},
    {
      "type": "object",
      "required": ["questions"],
      "properties": {
        "delay": {"type": "integer", "minimum": 0},
        "questions": {"$ref": "#/$defs/questions"}
      }
    }
  ]
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Loader reads one question set per *.json file of a directory, in file name order.
// The topic is the file name without its extension.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

func (l *Loader) LoadQuestionSets(ctx context.Context) ([]domain.QuestionSet, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read question dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}

	sets := make([]domain.QuestionSet, len(names))
	errs := make([]error, len(names))

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)
	for i, name := range names {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			data, err := os.ReadFile(filepath.Join(l.dir, name))
			if err != nil {
				errs[i] = fmt.Errorf("read %s: %w", name, err)
				return nil
			}
			set, err := Parse(strings.TrimSuffix(name, filepath.Ext(name)), data)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", name, err)
				return nil
			}
			sets[i] = set
			return nil
		})
	}
	_ = eg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return sets, nil
}

// Parse decodes and validates one question set document.
func Parse(topic string, data []byte) (domain.QuestionSet, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.QuestionSet{}, fmt.Errorf("%w %q: invalid JSON: %w", domain.ErrMalformedQuestionSet, topic, err)
	}

	schema, err := questionSchema()
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("compile schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return domain.QuestionSet{}, fmt.Errorf("%w %q: %w", domain.ErrMalformedQuestionSet, topic, err)
	}

	set := domain.QuestionSet{Topic: topic}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		if err := json.Unmarshal(data, &set.Questions); err != nil {
			return domain.QuestionSet{}, fmt.Errorf("%w %q: %w", domain.ErrMalformedQuestionSet, topic, err)
		}
	} else {
		var body struct {
			Delay     int               `json:"delay"`
			Questions []domain.Question `json:"questions"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return domain.QuestionSet{}, fmt.Errorf("%w %q: %w", domain.ErrMalformedQuestionSet, topic, err)
		}
		set.Delay = body.Delay
		set.Questions = body.Questions
	}

	if err := set.Validate(); err != nil {
		return domain.QuestionSet{}, err
	}
	return set, nil
}

func questionSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var def any
		if err := json.Unmarshal([]byte(questionSetSchema), &def); err != nil {
			schemaErr = fmt.Errorf("parse schema definition: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		const url = "schema://question-set.json"
		if err := c.AddResource(url, def); err != nil {
			schemaErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(url)
	})
	return compiledSchema, schemaErr
}
