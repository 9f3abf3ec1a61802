// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/poi295/camellones/utils/textutils"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// legacyEncoding is assumed for POI tables that aren't valid UTF-8.
const legacyEncoding = "windows-1252"

// POI table column names.
const (
	ColumnLinkID  = "LINK_ID"
	ColumnPOIID   = "POI_ID"
	ColumnSide    = "POI_ST_SD"
	ColumnName    = "POI_NAME"
	ColumnPercent = "PERCFRREF"
)

var requiredColumns = []string{ColumnLinkID, ColumnPOIID, ColumnSide, ColumnName, ColumnPercent}

// ErrMissingColumn is returned when the POI table lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// LoadPOIs reads the POI table.
func LoadPOIs(path string) ([]*POI, error) {
	f, err := os.Open(path) // #nosec G304 - path is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("opening POI file: %w", err)
	}
	defer f.Close()

	return ReadPOIs(f, "text/csv")
}

// ReadPOIs decodes a POI table. The text encoding is taken from contentType
// when it names one, otherwise UTF-8 is assumed unless the whole content
// isn't valid UTF-8, in which case Windows-1252 is used.
//
// Rows with an unreadable LINK_ID are kept with LinkID 0, and an unreadable
// PERCFRREF becomes NaN, so that they are reported downstream instead of
// vanishing here.
func ReadPOIs(r io.Reader, contentType string) ([]*POI, error) {
	decoded, err := decodeText(r, contentType)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading POI header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[textutils.LowerASCIIFolding(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	index := make(map[string]int, len(requiredColumns))

	for _, name := range requiredColumns {
		i, ok := columns[textutils.LowerASCIIFolding(name)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}

		index[name] = i
	}

	field := func(record []string, name string) string {
		if i := index[name]; i < len(record) {
			return strings.TrimSpace(record[i])
		}

		return ""
	}

	var pois []*POI

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("reading POI line %d: %w", line, err)
		}

		linkID, _ := strconv.ParseInt(field(record, ColumnLinkID), 10, 64)

		percent, err := textutils.ParseFloat(field(record, ColumnPercent))
		if err != nil {
			percent = math.NaN()
		}

		pois = append(pois, &POI{
			ID:      field(record, ColumnPOIID),
			LinkID:  linkID,
			Percent: percent,
			Side:    strings.ToUpper(field(record, ColumnSide)),
			Name:    field(record, ColumnName),
		})
	}

	return pois, nil
}

// decodeText returns a UTF-8 reader over r.
func decodeText(r io.Reader, contentType string) (io.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading POI file: %w", err)
	}

	name := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		name = params["charset"]
	}

	if name == "" {
		if utf8.Valid(data) {
			return bytes.NewReader(data), nil
		}

		name = legacyEncoding
	}

	enc, canonical := charset.Lookup(name)
	if enc == nil {
		return nil, fmt.Errorf("unsupported POI file encoding %q", name)
	}

	if canonical == "utf-8" {
		return bytes.NewReader(data), nil
	}

	return transform.NewReader(bytes.NewReader(data), enc.NewDecoder()), nil
}
