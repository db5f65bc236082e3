package expander

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// specRe matches the supported subset of format specs:
// [[fill]align][sign][0][width][.precision][type]
var specRe = regexp.MustCompile(`^(?:(.)?([<>^]))?([+\- ])?(0)?(\d+)?(?:\.(\d+))?([dfeEgs%])?$`)

// applySpec formats the already-resolved token value according to its format
// spec, mirroring ordinary format-string semantics for the d/f/e/g/s types.
// An unsupported spec leaves the value untouched; format specs come from
// user templates and a bad one should not sink the whole expansion.
func applySpec(spec, val string) string {
	m := specRe.FindStringSubmatch(spec)
	if m == nil || spec == "" {
		return val
	}
	fill, align, sign, zero, widthStr, precStr, verb := m[1], m[2], m[3], m[4], m[5], m[6], m[7]

	width := 0
	if widthStr != "" {
		width, _ = strconv.Atoi(widthStr)
	}
	prec := -1
	if precStr != "" {
		prec, _ = strconv.Atoi(precStr)
	}

	out := val
	switch verb {
	case "d":
		i, err := parseIntLoose(val)
		if err != nil {
			return val
		}
		out = strconv.FormatInt(i, 10)
		if sign == "+" && i >= 0 {
			out = "+" + out
		}
		if zero != "" && align == "" {
			return padNumeric(out, width)
		}
	case "f", "e", "E", "g", "%":
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return val
		}
		p := prec
		if p < 0 {
			p = 6
		}
		switch verb {
		case "f":
			out = strconv.FormatFloat(f, 'f', p, 64)
		case "e", "E":
			out = strconv.FormatFloat(f, byte(verb[0]), p, 64)
		case "g":
			if prec < 0 {
				p = -1
			}
			out = strconv.FormatFloat(f, 'g', p, 64)
		case "%":
			out = strconv.FormatFloat(f*100, 'f', p, 64) + "%"
		}
		if sign == "+" && f >= 0 {
			out = "+" + out
		}
		if zero != "" && align == "" {
			return padNumeric(out, width)
		}
	case "s", "":
		if prec >= 0 && prec < len(out) {
			out = out[:prec]
		}
	}

	if len(out) >= width {
		return out
	}
	pad := width - len(out)
	fillCh := " "
	if fill != "" {
		fillCh = fill
	} else if zero != "" {
		fillCh = "0"
	}
	switch align {
	case ">":
		return strings.Repeat(fillCh, pad) + out
	case "^":
		left := pad / 2
		return strings.Repeat(fillCh, left) + out + strings.Repeat(fillCh, pad-left)
	case "<":
		return out + strings.Repeat(fillCh, pad)
	default:
		if verb == "d" || verb == "f" || verb == "e" || verb == "E" || verb == "g" {
			return strings.Repeat(fillCh, pad) + out
		}
		return out + strings.Repeat(fillCh, pad)
	}
}

// padNumeric zero-pads a rendered number, keeping any sign in front.
func padNumeric(s string, width int) string {
	if len(s) >= width {
		return s
	}
	sign := ""
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		sign, s = s[:1], s[1:]
	}
	return sign + strings.Repeat("0", width-len(sign)-len(s)) + s
}

// parseIntLoose accepts both "4" and "4.0" for d-type specs.
func parseIntLoose(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("%q is not integral", s)
	}
	return int64(f), nil
}
