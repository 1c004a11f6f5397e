//go:build mage

// Package main contains Mage build targets for knowledge-gardener developer tooling.
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// projectDirs lists the working directories a default configuration uses.
var projectDirs = []string{
	"state",
	"filesystem",
	"prompts",
	".secrets",
}

// Init creates the working directories and an empty secrets directory.
func Init() error {
	for _, dir := range projectDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	fmt.Println("Project directories initialized.")
	return nil
}

const (
	binDir  = "bin"
	binName = "knowledge-gardener"
	cmdPkg  = "./cmd/knowledge-gardener"
)

// Build compiles the CLI binary into bin/, stamping the version from
// VERSION when set.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	out := filepath.Join(binDir, binName)
	ldflags := ""
	if v := os.Getenv("VERSION"); v != "" {
		ldflags = "-X main.version=" + v
	}
	if err := sh.RunV("go", "build", "-ldflags", ldflags, "-o", out, cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Test runs the unit tests with the race detector.
func Test() error {
	if err := sh.RunV("go", "test", "-race", "./..."); err != nil {
		return fmt.Errorf("go test: %w", err)
	}
	return nil
}

// Check runs vet and the tests, then builds.
func Check() {
	mg.SerialDeps(Vet, Test, Build)
}

// Vet runs go vet over the module.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Stats prints non-blank Go lines per package, split into production and
// test code, and the word count of the markdown documents.
func Stats() error {
	type count struct{ prod, test int }
	pkgs := map[string]*count{}
	docWords := 0

	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != "." && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || name == "bin") {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(name) {
		case ".go":
			n, err := nonBlankLines(path)
			if err != nil {
				return err
			}
			dir := filepath.Dir(path)
			c, ok := pkgs[dir]
			if !ok {
				c = &count{}
				pkgs[dir] = c
			}
			if strings.HasSuffix(name, "_test.go") {
				c.test += n
			} else {
				c.prod += n
			}
		case ".md":
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			docWords += len(bytes.Fields(data))
		}
		return nil
	})
	if err != nil {
		return err
	}

	dirs := make([]string, 0, len(pkgs))
	for dir := range pkgs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var prod, test int
	for _, dir := range dirs {
		c := pkgs[dir]
		fmt.Printf("  %-32s %6d %6d\n", dir, c.prod, c.test)
		prod += c.prod
		test += c.test
	}
	fmt.Printf("Lines of code (Go, production): %d\n", prod)
	fmt.Printf("Lines of code (Go, tests):      %d\n", test)
	fmt.Printf("Words (documentation):          %d\n", docWords)
	return nil
}

func nonBlankLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n, sc.Err()
}
