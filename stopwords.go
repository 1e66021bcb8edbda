package gscluster

import (
	"bufio"
	"embed"
	"fmt"
	"io"
	"os"
	"strings"
)

//go:embed stopwords/*.txt
var stopwordFiles embed.FS

// StopwordSet is a set of lowercase words ignored when building cluster labels.
type StopwordSet map[string]struct{}

// NewStopwordSet returns a set containing the lowercase form of words.
func NewStopwordSet(words ...string) StopwordSet {
	set := make(StopwordSet, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

// Contains reports whether word is in the set. The caller lowercases word.
func (s StopwordSet) Contains(word string) bool {
	_, ok := s[word]
	return ok
}

// Stopwords returns the built-in list for language ("spanish" or "english").
func Stopwords(language string) (StopwordSet, error) {
	f, err := stopwordFiles.Open("stopwords/" + strings.ToLower(language) + ".txt")
	if err != nil {
		return nil, fmt.Errorf("no built-in stopwords for language %q", language)
	}
	defer f.Close()
	return readStopwords(f)
}

// LoadStopwords reads a newline separated word list. Blank lines and lines
// starting with '#' are skipped.
func LoadStopwords(path string) (StopwordSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stopwords file: %w", err)
	}
	defer f.Close()
	return readStopwords(f)
}

func readStopwords(r io.Reader) (StopwordSet, error) {
	set := StopwordSet{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word == "" || strings.HasPrefix(word, "#") {
			continue
		}
		set[strings.ToLower(word)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stopwords: %w", err)
	}
	return set, nil
}
