package pipeline

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"github.com/siqueiraa/sdfc/pkg/metadata"
)

// Config is a parsed dataflow document. Legacy schema tags keep only the
// identity fields; Document fails on them.
type Config struct {
	version APIVersion
	meta    Meta
	doc     *Document
}

func (c *Config) APIVersion() string { return c.version.String() }
func (c *Config) Meta() Meta          { return c.meta }

// Supported is false for documents parsed into the identity-only marker.
func (c *Config) Supported() bool { return c.doc != nil }

// Document returns the pipeline content of a current document.
func (c *Config) Document() (*Document, error) {
	if c.doc == nil {
		return nil, &UnsupportedVersionError{Version: c.version.String()}
	}
	return c.doc, nil
}

// PackageConfig is a parsed package document.
type PackageConfig struct {
	version APIVersion
	doc     *PackageDocument
}

func (c *PackageConfig) APIVersion() string         { return c.version.String() }
func (c *PackageConfig) Meta() Meta                 { return c.doc.Meta }
func (c *PackageConfig) Document() *PackageDocument { return c.doc }

// Parser decodes dataflow and package documents.
type Parser struct {
	logger hclog.Logger
}

func NewParser(logger hclog.Logger) *Parser {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Parser{logger: logger.Named("parser")}
}

var defaultParser = NewParser(nil)

// Parse decodes a dataflow document.
func Parse(text string) (*Config, error) { return defaultParser.Parse(text) }

// ParsePackage decodes a package document.
func ParsePackage(text string) (*PackageConfig, error) { return defaultParser.ParsePackage(text) }

// LoadFromFile reads and parses a dataflow document.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadPackageFromFile reads and parses a package document.
func LoadPackageFromFile(path string) (*PackageConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParsePackage(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (p *Parser) Parse(text string) (*Config, error) {
	root, err := parseRoot(text)
	if err != nil {
		return nil, err
	}
	ver, err := readVersion(root)
	if err != nil {
		return nil, err
	}
	cfg := &Config{version: ver}

	switch {
	case isLegacyDataflow(ver.String()):
		p.logger.Warn("legacy apiVersion, only identity fields are available", "apiVersion", ver.String())
		if n := findKey(root, "meta"); n != nil {
			if err := n.Decode(&cfg.meta); err != nil {
				return nil, wrapDecodeErr("meta", n.Line, err)
			}
		}
		return cfg, nil
	case !isCurrentDataflow(ver.String()):
		return nil, &UnsupportedVersionError{Version: ver.String()}
	}

	doc := &Document{APIVersion: ver.String()}
	for _, pair := range mappingPairs(root) {
		key, value := pair.key.Value, pair.value
		switch key {
		case "apiVersion":
		case "meta":
			err = decodeValue(value, key, &doc.Meta)
		case "imports":
			err = decodeValue(value, key, &doc.Imports)
		case "types":
			doc.Types, err = decodeMap[TypeDef](value, key)
		case "topics":
			doc.Topics, err = decodeMap[Topic](value, key)
		case "config":
			err = decodeValue(value, key, &doc.Config)
		case "dev":
			err = decodeValue(value, key, &doc.Dev)
		case "services":
			doc.Services, err = decodeMap[Service](value, key)
		case "schedule":
			doc.Schedule, err = decodeMap[ScheduleConfig](value, key)
		default:
			err = syntaxErr("", pair.key.Line, "unknown field `%s`", key)
		}
		if err != nil {
			return nil, err
		}
	}
	if doc.Meta.Name == "" {
		return nil, syntaxErr("meta", root.Line, "missing field `name`")
	}
	for _, name := range sortedKeys(doc.Schedule) {
		sc := metadata.ScheduleConfig{Name: name, Cron: doc.Schedule[name].Cron}
		if err := sc.Validate(); err != nil {
			return nil, err
		}
	}
	for name, svc := range doc.Services {
		if len(svc.Sinks) == 1 && svc.Sinks[0].Type == metadata.IONoTarget {
			p.logger.Debug("service sinks to no-target", "service", name)
		}
	}

	p.logger.Debug("parsed dataflow", "name", doc.Meta.Name, "apiVersion", doc.APIVersion,
		"services", len(doc.Services), "types", len(doc.Types))
	cfg.meta = doc.Meta
	cfg.doc = doc
	return cfg, nil
}

func (p *Parser) ParsePackage(text string) (*PackageConfig, error) {
	root, err := parseRoot(text)
	if err != nil {
		return nil, err
	}
	ver, err := readVersion(root)
	if err != nil {
		return nil, err
	}
	if !isPackageVersion(ver.String()) {
		return nil, &UnsupportedVersionError{Version: ver.String()}
	}

	doc := &PackageDocument{APIVersion: ver.String()}
	for _, pair := range mappingPairs(root) {
		key, value := pair.key.Value, pair.value
		switch key {
		case "apiVersion":
		case "meta":
			err = decodeValue(value, key, &doc.Meta)
		case "imports":
			err = decodeValue(value, key, &doc.Imports)
		case "types":
			doc.Types, err = decodeMap[TypeDef](value, key)
		case "states":
			doc.States, err = decodeStates(value, key)
		case "functions":
			doc.Functions, err = decodeFunctions(value, key)
		case "dev":
			err = decodeValue(value, key, &doc.Dev)
		default:
			err = syntaxErr("", pair.key.Line, "unknown field `%s`", key)
		}
		if err != nil {
			return nil, err
		}
	}
	if doc.Meta.Name == "" {
		return nil, syntaxErr("meta", root.Line, "missing field `name`")
	}

	p.logger.Debug("parsed package", "name", doc.Meta.Name, "apiVersion", doc.APIVersion,
		"functions", len(doc.Functions))
	return &PackageConfig{version: ver, doc: doc}, nil
}

/* ---------------------------------------------------------------------
   Decoding helpers
   --------------------------------------------------------------------- */

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

func parseRoot(text string) (*yaml.Node, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		line := 0
		if m := yamlLineRe.FindStringSubmatch(err.Error()); m != nil {
			line, _ = strconv.Atoi(m[1])
		}
		return nil, &SyntaxError{Line: line, Err: err}
	}
	if node.Kind == 0 || len(node.Content) == 0 {
		return nil, ErrEmptyDocument
	}
	if err := checkDuplicateKeys(&node, ""); err != nil {
		return nil, err
	}
	root := node.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, syntaxErr("", root.Line, "document must be a mapping, found %s", describeKind(root))
	}
	return root, nil
}

func readVersion(root *yaml.Node) (APIVersion, error) {
	raw := scalarValue(root, "apiVersion")
	if raw == "" {
		return APIVersion{}, &UnsupportedVersionError{}
	}
	ver, err := ParseAPIVersion(raw)
	if err != nil {
		return APIVersion{}, &SyntaxError{Path: "apiVersion", Line: findKey(root, "apiVersion").Line, Err: err}
	}
	return ver, nil
}

func decodeValue(node *yaml.Node, path string, out any) error {
	if err := node.Decode(out); err != nil {
		return wrapDecodeErr(path, node.Line, err)
	}
	return nil
}

// decodeMap decodes a mapping section entry by entry so errors carry the entry path.
func decodeMap[T any](node *yaml.Node, path string) (map[string]T, error) {
	if node.Kind != yaml.MappingNode {
		if node.Tag == "!!null" {
			return map[string]T{}, nil
		}
		return nil, syntaxErr(path, node.Line, "expected a mapping, found %s", describeKind(node))
	}
	out := make(map[string]T, len(node.Content)/2)
	for _, pair := range mappingPairs(node) {
		var v T
		if err := pair.value.Decode(&v); err != nil {
			return nil, wrapDecodeErr(joinPath(path, pair.key.Value), pair.value.Line, err)
		}
		out[pair.key.Value] = v
	}
	return out, nil
}

func decodeStates(node *yaml.Node, path string) (map[string]TypeDef, error) {
	states, err := decodeMap[TypeDef](node, path)
	if err != nil {
		return nil, err
	}
	for name, td := range states {
		if td.Type != KindKeyedState {
			return nil, syntaxErr(joinPath(path, name), td.Line, "state type must be `keyed-state`, found `%s`", td.Type)
		}
	}
	return states, nil
}

// decodeFunctions keeps declaration order.
func decodeFunctions(node *yaml.Node, path string) ([]Function, error) {
	if node.Kind != yaml.MappingNode {
		return nil, syntaxErr(path, node.Line, "expected a mapping, found %s", describeKind(node))
	}
	var out []Function
	for _, pair := range mappingPairs(node) {
		var step Step
		if err := pair.value.Decode(&step); err != nil {
			return nil, wrapDecodeErr(joinPath(path, pair.key.Value), pair.value.Line, err)
		}
		if step.Operator == "" {
			return nil, syntaxErr(joinPath(path, pair.key.Value), pair.value.Line, "missing field `operator`")
		}
		if step.Uses == "" {
			step.Uses = pair.key.Value
		}
		out = append(out, Function{Name: pair.key.Value, Step: step})
	}
	return out, nil
}

// wrapDecodeErr anchors errors raised by nested decoders at path.
func wrapDecodeErr(path string, line int, err error) error {
	var se *SyntaxError
	if errors.As(err, &se) {
		if se.Path == "" {
			se.Path = path
		} else {
			se.Path = joinPath(path, se.Path)
		}
		if se.Line == 0 {
			se.Line = line
		}
		return se
	}
	return &SyntaxError{Path: path, Line: line, Err: err}
}
