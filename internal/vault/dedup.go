package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"

	"ocrnote/internal/pathutil"
)

// DupPolicy controls how Deduplicate numbers colliding names.
type DupPolicy struct {
	// Delimiter separates the number from the stem, e.g. " " gives "a 2.png".
	Delimiter string

	// AtStart puts the number in front of the stem ("2 a.png") instead of after it.
	AtStart bool

	// Always numbers the name even when it does not collide.
	Always bool
}

// NameObj is a file name split into its parts.
type NameObj struct {
	Name      string
	Stem      string
	Extension string
}

// Deduplicate picks a name for newName inside dir that does not collide with
// an existing sibling. Numbered variants already present in dir are scanned
// and the new number is one more than the largest one found.
func Deduplicate(ctx context.Context, s Storage, newName, dir string, policy DupPolicy) (NameObj, error) {
	listing, err := s.List(ctx, dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return NameObj{}, err
		}
		listing = &Listing{}
	}

	ext, hasExt := pathutil.Extension(newName)
	stem := newName
	extPattern := ""
	if hasExt {
		stem = newName[:len(newName)-len(ext)-1]
		extPattern = `\.` + pathutil.EscapeRegExp(ext)
	}

	stemPattern := pathutil.EscapeRegExp(stem)
	delimPattern := pathutil.EscapeRegExp(policy.Delimiter)

	var dupName *regexp.Regexp
	if policy.AtStart {
		dupName = regexp.MustCompile(`^(\d+)` + delimPattern + stemPattern + extPattern + `$`)
	} else {
		dupName = regexp.MustCompile(`^` + stemPattern + delimPattern + `(\d+)` + extPattern + `$`)
	}

	exists := false
	maxNumber := 0
	siblings := append(append([]string{}, listing.Files...), listing.Folders...)
	for _, sibling := range siblings {
		sibling = pathutil.Basename(sibling)
		if sibling == newName {
			exists = true
			continue
		}

		m := dupName.FindStringSubmatch(sibling)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > maxNumber {
			maxNumber = n
		}
	}

	name := newName
	if exists || policy.Always {
		number := strconv.Itoa(maxNumber + 1)
		if policy.AtStart {
			name = number + policy.Delimiter + stem
		} else {
			name = stem + policy.Delimiter + number
		}
		if hasExt {
			name += "." + ext
		}
	}

	obj := NameObj{Name: name, Stem: name, Extension: ext}
	if hasExt {
		obj.Stem = strings.TrimSuffix(name, "."+ext)
	}
	return obj, nil
}

// UniquePath returns path unchanged if nothing exists there. Otherwise it
// appends " 1", " 2", ... to the name before the ".md" extension until the
// result is free.
func UniquePath(ctx context.Context, s Storage, path string) (string, error) {
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return path, nil
	}

	base := strings.TrimSuffix(path, ".md")
	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s %d.md", base, counter)

		exists, err := s.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}
