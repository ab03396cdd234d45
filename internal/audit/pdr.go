// Package audit provides PDR (Process Decision Record) writing: why the
// heartbeat picked the work it did.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/cadence/internal/models"
)

// Writer persists decision records.
type Writer interface {
	WritePDR(ctx context.Context, action, inputsHash, outcome, taskKey, details string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	w Writer
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(w Writer) *PDRWriter {
	return &PDRWriter{w: w}
}

// Record writes a PDR entry for a decision.
func (p *PDRWriter) Record(ctx context.Context, action string, inputs any, outcome, taskKey, details string) (*models.PDREntry, error) {
	return p.w.WritePDR(ctx, action, HashInputs(inputs), outcome, taskKey, details)
}

// HashInputs creates a SHA256 hash of the inputs for reproducibility.
// encoding/json sorts map keys, so equal inputs hash equally.
func HashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
