// Package artifact defines the typed output records a run produces.
//
// Artifacts are append-only: a Draft is built during run execution and
// persisted once, together with the run's terminal status.
package artifact

import (
	"errors"
	"fmt"
	"strings"
)

type Type string

const (
	TypeChart     Type = "chart"
	TypeTable     Type = "table"
	TypeText      Type = "text"
	TypeList      Type = "list"
	TypeLink      Type = "link"
	TypeJSON      Type = "json"
	TypePDFReport Type = "pdf_report"
)

func (t Type) Valid() bool {
	switch t {
	case TypeChart, TypeTable, TypeText, TypeList, TypeLink, TypeJSON, TypePDFReport:
		return true
	default:
		return false
	}
}

var ErrInvalid = errors.New("invalid artifact")

// Draft is an artifact that has not been stored yet. Position is the display
// order within the run and is assigned by the store in slice order.
type Draft struct {
	Type  Type
	Title string
	Data  map[string]any
}

func (d Draft) Validate() error {
	if !d.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, d.Type)
	}
	if d.Data == nil {
		return fmt.Errorf("%w: %s artifact has no data", ErrInvalid, d.Type)
	}
	switch d.Type {
	case TypeLink:
		u, _ := d.Data["url"].(string)
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("%w: link artifact requires url", ErrInvalid)
		}
	case TypeList:
		if _, ok := d.Data["steps"].([]any); !ok {
			return fmt.Errorf("%w: list artifact requires steps", ErrInvalid)
		}
	case TypeTable:
		if _, ok := d.Data["columns"].([]any); !ok {
			return fmt.Errorf("%w: table artifact requires columns", ErrInvalid)
		}
		if _, ok := d.Data["rows"].([]any); !ok {
			return fmt.Errorf("%w: table artifact requires rows", ErrInvalid)
		}
	case TypeChart:
		if _, ok := d.Data["x"].([]any); !ok {
			return fmt.Errorf("%w: chart artifact requires x", ErrInvalid)
		}
		if _, ok := d.Data["y"].([]any); !ok {
			return fmt.Errorf("%w: chart artifact requires y", ErrInvalid)
		}
	}
	return nil
}

func Link(title, url string) Draft {
	return Draft{Type: TypeLink, Title: title, Data: map[string]any{"url": url}}
}

func List(title string, steps []string) Draft {
	items := make([]any, 0, len(steps))
	for _, s := range steps {
		items = append(items, s)
	}
	return Draft{Type: TypeList, Title: title, Data: map[string]any{"steps": items}}
}

func Text(title, text string) Draft {
	return Draft{Type: TypeText, Title: title, Data: map[string]any{"text": text}}
}

func JSON(title string, payload map[string]any) Draft {
	return Draft{Type: TypeJSON, Title: title, Data: payload}
}

func Chart(title, chartType string, x, y []any) Draft {
	return Draft{Type: TypeChart, Title: title, Data: map[string]any{
		"chart_type": chartType,
		"x":          x,
		"y":          y,
		"title":      title,
	}}
}

func Table(title string, columns []string, rows [][]any) Draft {
	cols := make([]any, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, c)
	}
	rs := make([]any, 0, len(rows))
	for _, r := range rows {
		rs = append(rs, r)
	}
	return Draft{Type: TypeTable, Title: title, Data: map[string]any{"columns": cols, "rows": rs}}
}
