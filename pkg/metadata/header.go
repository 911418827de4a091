package metadata

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/siqueiraa/sdfc/pkg/validate"
)

var (
	ErrInvalidPkgName = errors.New("invalid package name format, it should be namespace/name@version")
	ErrInvalidHeader  = errors.New("invalid header format, it should be namespace__name__version")
)

// Header identifies a package.
type Header struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Version   string `json:"version"`
}

// ParsePkgName parses the `namespace/name@version` form.
func ParsePkgName(pkg string) (Header, error) {
	parts := strings.Split(pkg, "/")
	if len(parts) != 2 {
		return Header{}, ErrInvalidPkgName
	}
	namespace := parts[0]
	parts = strings.Split(parts[1], "@")
	if len(parts) != 2 {
		return Header{}, ErrInvalidPkgName
	}
	return Header{Namespace: namespace, Name: parts[0], Version: parts[1]}, nil
}

// ParseCanonical parses the `namespace__name__version` form produced by CanonicalName.
func ParseCanonical(s string) (Header, error) {
	parts := strings.Split(s, "__")
	if len(parts) != 3 {
		return Header{}, ErrInvalidHeader
	}
	return Header{Namespace: parts[0], Name: parts[1], Version: parts[2]}, nil
}

func (h Header) String() string {
	return fmt.Sprintf("%s/%s@%s", h.Namespace, h.Name, h.Version)
}

// CanonicalName is usable as a file name.
func (h Header) CanonicalName() string {
	return fmt.Sprintf("%s__%s__%s", h.Namespace, h.Name, h.Version)
}

// Key is the index key used by the dependency resolver.
func (h Header) Key() string {
	return h.Namespace + ":" + h.Name + ":" + h.Version
}

// separatorClash describes why part cannot appear in the package name or
// canonical forms. A leading or trailing `_` would merge into a neighbouring
// `__`.
func separatorClash(part string) (string, bool) {
	for _, sep := range []string{"/", "@", "__"} {
		if strings.Contains(part, sep) {
			return fmt.Sprintf("cannot contain `%s`", sep), true
		}
	}
	if strings.HasPrefix(part, "_") || strings.HasSuffix(part, "_") {
		return "cannot start or end with `_`", true
	}
	return "", false
}

// Validate checks that every part is present, free of separators and that the
// version is semantic.
func (h Header) Validate() *validate.Failure {
	f := &validate.Failure{}
	if h.Name == "" {
		f.Push("Name cannot be empty")
	}
	if h.Namespace == "" {
		f.Push("Namespace cannot be empty")
	}
	for _, part := range []struct{ label, value string }{
		{"Name", h.Name}, {"Namespace", h.Namespace}, {"Version", h.Version},
	} {
		if reason, ok := separatorClash(part.value); ok {
			f.Pushf("%s `%s` %s", part.label, part.value, reason)
		}
	}
	if h.Version == "" {
		f.Push("Version cannot be empty")
	} else if _, err := version.NewSemver(h.Version); err != nil {
		f.Pushf("Version `%s` is not a valid semantic version", h.Version)
	}
	if !f.Any() {
		return nil
	}
	return f
}
