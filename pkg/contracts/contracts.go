// SPDX-License-Identifier: MPL-2.0

package contracts

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type (
	// ExecutionID uniquely identifies one in-flight or completed request.
	ExecutionID uuid.UUID

	// ExecuteRequest is the input to Execute: a source snippet and a set of
	// remote input file URLs.
	ExecuteRequest struct {
		Code  string
		Files []string
	}

	// InputFile records one downloaded input, as it will appear inside the
	// guest filesystem.
	InputFile struct {
		URL          string
		OriginalName string
		LocalName    string
		SizeBytes    int64
	}

	// OutputFile records one harvested output artifact, as stored in the
	// persistent file store.
	OutputFile struct {
		Filename     string
		OriginalName string
		SizeBytes    int64
	}

	// ExecuteResult is the output of Execute. Stderr is nil on success; it is
	// set whenever the guest reported a non-zero exit or the request failed
	// in a way worth surfacing to the caller (timeout, setup failure).
	ExecuteResult struct {
		Stdout        string
		Stderr        *string
		ExecutionTime float64
		ImageFilename *string
		Files         []OutputFile
		Inputs        []InputFile
	}

	// ExecutionService is the contract an HTTP (or other) collaborator
	// drives: initialize once, execute many requests, shut down once.
	ExecutionService interface {
		Initialize(ctx context.Context) error
		Shutdown(ctx context.Context) error
		Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error)
	}
)

// NewExecutionID generates a fresh random ExecutionID.
func NewExecutionID() ExecutionID {
	return ExecutionID(uuid.New())
}

// String renders the ExecutionID in canonical UUID form.
func (id ExecutionID) String() string {
	return uuid.UUID(id).String()
}

// LocalPath returns the in-container path an InputFile is materialised at.
func (f InputFile) LocalPath() string {
	return "/code/input/" + f.LocalName
}

// ToDict mirrors the original broker's InputFile.to_dict() wire shape.
func (f InputFile) ToDict() map[string]any {
	return map[string]any{
		"url":           f.URL,
		"original_name": f.OriginalName,
		"local_name":    f.LocalName,
		"local_path":    f.LocalPath(),
		"size_bytes":    f.SizeBytes,
	}
}

// ToDict mirrors the original broker's OutputFile.to_dict() wire shape.
func (f OutputFile) ToDict(fileURLPrefix, publicBaseURL string) map[string]any {
	url := joinPublicURL(publicBaseURL, strings.TrimSuffix(fileURLPrefix, "/")+"/"+f.Filename)
	return map[string]any{
		"filename":      f.Filename,
		"original_name": f.OriginalName,
		"size_bytes":    f.SizeBytes,
		"url":           url,
	}
}

// ToLegacyDict mirrors the original broker's ExecuteResult.to_legacy_dict()
// wire shape, for an HTTP collaborator that must reproduce the historical
// response envelope verbatim.
func (r *ExecuteResult) ToLegacyDict(imageURLPrefix, fileURLPrefix, publicBaseURL string) map[string]any {
	var imageURL any
	if r.ImageFilename != nil && *r.ImageFilename != "" {
		imageURL = joinPublicURL(publicBaseURL, strings.TrimSuffix(imageURLPrefix, "/")+"/"+*r.ImageFilename)
	}

	files := make([]map[string]any, 0, len(r.Files))
	for _, f := range r.Files {
		files = append(files, f.ToDict(fileURLPrefix, publicBaseURL))
	}
	inputs := make([]map[string]any, 0, len(r.Inputs))
	for _, in := range r.Inputs {
		inputs = append(inputs, in.ToDict())
	}

	var stderr any
	if r.Stderr != nil {
		stderr = *r.Stderr
	}

	return map[string]any{
		"result":         r.Stdout,
		"error":          stderr,
		"execution_time": r.ExecutionTime,
		"image_url":      imageURL,
		"files":          files,
		"inputs":         inputs,
	}
}

// joinPublicURL mirrors the original broker's _join_public_url helper.
func joinPublicURL(publicBaseURL, path string) string {
	if path == "" {
		return path
	}
	base := strings.TrimSpace(publicBaseURL)
	if base == "" {
		return path
	}
	return fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), strings.TrimLeft(path, "/"))
}

// Failed reports whether the result represents a failed execution.
func (r *ExecuteResult) Failed() bool {
	return r.Stderr != nil && *r.Stderr != ""
}
