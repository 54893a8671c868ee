package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/civigo/docflow/internal/models"
	"github.com/civigo/docflow/internal/repository"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Loader seeds workflow templates from YAML files at startup. Templates
// are immutable once published; publishing a new version replaces the
// active template for its document type wholesale.
type Loader struct {
	repo   repository.TemplateRepository
	logger *zap.Logger
}

// NewLoader creates a new template loader
func NewLoader(repo repository.TemplateRepository, logger *zap.Logger) *Loader {
	return &Loader{
		repo:   repo,
		logger: logger,
	}
}

// LoadDir parses and saves every .yaml/.yml template in dir. Seeding is
// idempotent: a document type whose active template already carries the
// file's version is left untouched.
func (l *Loader) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read templates dir %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		template, err := l.LoadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("template file %s: %w", name, err)
		}

		existing, err := l.repo.GetActiveByDocumentType(template.DocumentType)
		if err != nil {
			return fmt.Errorf("failed to check existing template for %s: %w", template.DocumentType, err)
		}
		if existing != nil && existing.Version >= template.Version {
			l.logger.Debug("Template already seeded",
				zap.String("document_type", template.DocumentType),
				zap.Int("version", existing.Version))
			continue
		}

		if err := l.repo.Save(template); err != nil {
			return fmt.Errorf("failed to save template %s: %w", template.Name, err)
		}
		loaded++

		l.logger.Info("Seeded workflow template",
			zap.String("name", template.Name),
			zap.String("document_type", template.DocumentType),
			zap.Int("version", template.Version),
			zap.Int("steps", len(template.Steps)))
	}

	l.logger.Info("Template seeding finished", zap.Int("loaded", loaded))
	return nil
}

// LoadFile parses and validates a single template file
func (l *Loader) LoadFile(path string) (*models.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML template definition, fills in missing identifiers
// and validates its structure
func Parse(data []byte) (*models.WorkflowTemplate, error) {
	var template models.WorkflowTemplate
	if err := yaml.Unmarshal(data, &template); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	if template.ID == "" {
		template.ID = models.NewID()
	}
	if template.Version == 0 {
		template.Version = 1
	}
	for i := range template.Steps {
		if template.Steps[i].ID == "" {
			template.Steps[i].ID = models.NewID()
		}
	}
	sort.Slice(template.Steps, func(i, j int) bool {
		return template.Steps[i].Order < template.Steps[j].Order
	})

	if err := Validate(&template); err != nil {
		return nil, err
	}
	return &template, nil
}

// Validate checks the structural invariants of a template: non-empty name
// and document type, at least one step, contiguous 1-based step orders and
// non-negative estimated durations.
func Validate(template *models.WorkflowTemplate) error {
	if template.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if template.DocumentType == "" {
		return fmt.Errorf("template document_type is required")
	}
	if len(template.Steps) == 0 {
		return fmt.Errorf("template %s has no steps", template.Name)
	}

	for i := range template.Steps {
		step := &template.Steps[i]
		if step.Name == "" {
			return fmt.Errorf("step %d of template %s has no name", i+1, template.Name)
		}
		if step.Order != i+1 {
			return fmt.Errorf("template %s: step orders must be contiguous starting at 1, got %d at position %d",
				template.Name, step.Order, i+1)
		}
		if step.EstimatedDuration < 0 {
			return fmt.Errorf("template %s: step %s has negative estimated duration", template.Name, step.Name)
		}
	}
	return nil
}
