package main

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jobstoit/s3rewrite"
	"github.com/urfave/cli/v2"
)

func transformFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "replace",
			Usage: "Replace every occurrence of old with new in each line, given as old=new",
		},
		&cli.StringFlag{
			Name:  "regexp",
			Usage: "Regular expression to replace in each line",
		},
		&cli.StringFlag{
			Name:  "with",
			Usage: "Replacement for --regexp, may reference groups like ${1}",
		},
	}
}

// transformFromFlags builds the line transform from the replace and regexp flags.
// Without any of them the lines pass through unchanged.
func transformFromFlags(c *cli.Context) (s3rewrite.Transform, error) {
	return newTransform(c.StringSlice("replace"), c.String("regexp"), c.String("with"))
}

func newTransform(replacements []string, expr, with string) (s3rewrite.Transform, error) {
	var fns []func(string) string

	if len(replacements) > 0 {
		pairs := make([]string, 0, len(replacements)*2)
		for _, r := range replacements {
			old, repl, ok := strings.Cut(r, "=")
			if !ok || old == "" {
				return nil, fmt.Errorf("invalid replacement '%s', expected old=new", r)
			}

			pairs = append(pairs, old, repl)
		}

		fns = append(fns, strings.NewReplacer(pairs...).Replace)
	}

	if expr != "" {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compiling regexp: %w", err)
		}

		fns = append(fns, func(line string) string {
			return re.ReplaceAllString(line, with)
		})
	} else if with != "" {
		return nil, errors.New("--with requires --regexp")
	}

	if len(fns) == 0 {
		return s3rewrite.Identity, nil
	}

	return s3rewrite.MapLines(func(line string) string {
		for _, fn := range fns {
			line = fn(line)
		}

		return line
	}), nil
}
