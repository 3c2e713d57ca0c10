package main

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	sqlKeywordPattern = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with|create|alter|drop)\b`)
	markerPattern     = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

// markerSite records where a marker was declared.
type markerSite struct {
	file string
	name string
	line int
}

// linter accumulates findings across files so duplicate markers can be
// reported no matter which file declares them first.
type linter struct {
	violations []violation
	seen       map[string]markerSite
}

func newLinter() *linter {
	return &linter{seen: make(map[string]markerSite)}
}

// lintSource checks every string constant or variable in src that looks like
// SQL. Each must open with a --sql <uuid> line, and no uuid may repeat.
func (l *linter) lintSource(path string, src any) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for _, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil || !sqlKeywordPattern.MatchString(raw) {
				continue
			}
			site := markerSite{file: path, name: joinNames(vs.Names), line: fset.Position(bl.Pos()).Line}
			marker := firstLine(raw)
			if !markerPattern.MatchString(marker) {
				l.add(site, "missing or invalid --sql <uuid> marker")
				continue
			}
			if prev, dup := l.seen[marker]; dup {
				l.add(site, "marker already used by "+prev.name+" at "+prev.file+":"+strconv.Itoa(prev.line))
				continue
			}
			l.seen[marker] = site
		}
		return true
	})
	return nil
}

func (l *linter) add(site markerSite, msg string) {
	l.violations = append(l.violations, violation{file: site.file, name: site.name, line: site.line, message: msg})
}

// sorted returns the findings ordered by file and line.
func (l *linter) sorted() []violation {
	out := append([]violation(nil), l.violations...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].file != out[j].file {
			return out[i].file < out[j].file
		}
		return out[i].line < out[j].line
	})
	return out
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident != nil {
			parts = append(parts, ident.Name)
		}
	}
	return strings.Join(parts, ",")
}
