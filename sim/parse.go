// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package sim

import (
	"strconv"
	"strings"
	"text/scanner"

	"github.com/pkg/errors"
)

// ParseEdges parses a comma separated edge list. Each edge is a pair of node
// numbers separated by a dash. For example:
//
//	ParseEdges("0-1, 1-2, 2-0") // returns []Edge{{0, 1}, {1, 2}, {2, 0}}
//
func ParseEdges(s string) ([]Edge, error) {
	var (
		out []Edge
		sc  scanner.Scanner
	)
	sc.Init(strings.NewReader(s))
	sc.Mode = scanner.ScanInts
	sc.Error = func(*scanner.Scanner, string) {}

	node := func() (int, error) {
		if t := sc.Scan(); t != scanner.Int {
			return 0, parseError(s, sc.Position.Offset, "expected node number")
		}
		return strconv.Atoi(sc.TokenText())
	}

	if sc.Peek() == scanner.EOF {
		return nil, nil
	}
	for {
		a, err := node()
		if err != nil {
			return nil, err
		}
		if sc.Scan() != '-' {
			return nil, parseError(s, sc.Position.Offset, "expected '-'")
		}
		b, err := node()
		if err != nil {
			return nil, err
		}
		out = append(out, Edge{a, b})
		switch sc.Scan() {
		case scanner.EOF:
			return out, nil
		case ',':
		default:
			return nil, parseError(s, sc.Position.Offset, "expected comma or end of input")
		}
	}
}

func parseError(in string, pos int, msg string) error {
	return errors.Errorf("in %q at pos %d: %s", in, pos+1, msg)
}
