package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/jhillyerd/enmime"

	"utiles/internal"
)

// ExtractItemsFromInput runs the rule-based parsers on a single input so a
// reviewer can see what the pipeline would read from it. input is a file path
// except for the "text" and "html" types, where it may also be the content.
func ExtractItemsFromInput(inputType string, input string) ([]internal.RawItem, error) {
	switch strings.ToLower(inputType) {
	case "text":
		return parseEmailText(readOrLiteral(input)), nil
	case "html":
		return parseEmailHTMLTable(readOrLiteral(input)), nil
	case "xlsx":
		blob, err := os.ReadFile(input)
		if err != nil {
			return nil, err
		}
		return parseXLSX(blob)
	case "pdf":
		blob, err := os.ReadFile(input)
		if err != nil {
			return nil, err
		}
		return parsePDF(blob)
	case "eml":
		blob, err := os.ReadFile(input)
		if err != nil {
			return nil, err
		}
		return parseEmailBody(blob)
	default:
		return nil, fmt.Errorf("unsupported input type: %s", inputType)
	}
}

// parseEmailBody reads items written in the message itself: HTML tables
// first, then plain text lines. PDF attachments go through ProcessFile.
func parseEmailBody(raw []byte) ([]internal.RawItem, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if env.HTML != "" {
		if items := parseEmailHTMLTable(env.HTML); len(items) > 0 {
			return items, nil
		}
	}
	return parseEmailText(env.Text), nil
}

func readOrLiteral(input string) string {
	if info, err := os.Stat(input); err == nil && !info.IsDir() {
		if blob, err := os.ReadFile(input); err == nil {
			return string(blob)
		}
	}
	return input
}
