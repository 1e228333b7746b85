package model

import (
	"fmt"
	"time"
)

// Engine is a named processing pipeline.
type Engine struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// EngineVersion is one released configuration of an engine.
type EngineVersion struct {
	ID          int64     `json:"id"`
	EngineID    int64     `json:"engine_id"`
	Version     string    `json:"version"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Model is one pipeline stage: an asset directory plus a configuration blob.
type Model struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Config string `json:"-"`
}

// ResultFormat is one of the artifact kinds a worker uploads for a processed page.
type ResultFormat string

// Result format constants.
const (
	FormatAlto ResultFormat = "alto"
	FormatPage ResultFormat = "page"
	FormatText ResultFormat = "txt"
)

// ResultFormats lists every artifact kind in upload order.
var ResultFormats = []ResultFormat{FormatAlto, FormatPage, FormatText}

// ParseResultFormat converts a requested format name into a ResultFormat.
func ParseResultFormat(s string) (ResultFormat, error) {
	switch ResultFormat(s) {
	case FormatAlto, FormatPage, FormatText:
		return ResultFormat(s), nil
	}
	return "", fmt.Errorf("unknown result format %q", s)
}

// EntryName returns the archive entry name of this artifact for the given page.
func (f ResultFormat) EntryName(pageName string) string {
	switch f {
	case FormatAlto:
		return pageName + "_alto.xml"
	case FormatPage:
		return pageName + "_page.xml"
	default:
		return pageName + ".txt"
	}
}
