// Package secrets looks for credentials in file contents before they are
// committed to the backup repository.
package secrets

import (
	"os"

	"github.com/pkg/errors"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// IgnoreFile is the name of the gitleaks ignore file read from the root of
// the backup repository.
const IgnoreFile = ".gitleaksignore"

type Finding struct {
	RuleID      string
	Description string
	File        string
	Line        int
	Secret      string // redacted
}

type Scanner struct {
	detector *detect.Detector
}

// NewScanner creates a scanner using the default gitleaks rules.
func NewScanner() (*Scanner, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load gitleaks config")
	}
	d.Redact = 80
	return &Scanner{detector: d}, nil
}

// LoadIgnore reads a gitleaks ignore file of finding fingerprints. A missing
// file is not an error.
func (s *Scanner) LoadIgnore(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return s.detector.AddGitleaksIgnore(path)
}

// Scan returns every secret found in content. The name is used for path
// based rules and reporting.
func (s *Scanner) Scan(name string, content []byte) []Finding {
	found := s.detector.Detect(detect.Fragment{
		Raw:      string(content),
		FilePath: name,
	})
	findings := make([]Finding, 0, len(found))
	for _, f := range found {
		findings = append(findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			File:        name,
			Line:        f.StartLine,
			Secret:      f.Secret,
		})
	}
	return findings
}
