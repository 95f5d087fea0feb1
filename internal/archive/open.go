package archive

import (
	"fmt"

	"reportsync/internal/upload"
)

// Archive kinds accepted by Open.
const (
	KindADR = "adr"
	KindS3  = "s3"
)

// Config selects and configures one archive implementation.
type Config struct {
	Kind string
	ADR  ADRConfig
	S3   S3Config
}

// Open builds the archive named by cfg.Kind.
func Open(cfg Config, source *Source) (upload.Archive, error) {
	switch cfg.Kind {
	case KindADR, "":
		a, err := NewADRClient(cfg.ADR, source)
		if err != nil {
			return nil, err
		}
		return a, nil
	case KindS3:
		a, err := NewS3Archive(cfg.S3, source)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive kind %q", cfg.Kind)
	}
}
