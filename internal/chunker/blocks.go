package chunker

import (
	"regexp"
	"strings"

	"github.com/semdex/semdex/pkg/types"
)

// declPattern locates a top-level declaration and classifies it.
type declPattern struct {
	re   *regexp.Regexp
	kind string
}

// Declaration patterns per language. Anchored at column zero so nested
// definitions stay inside their enclosing block. The first capture group is
// the entity name.
var declPatterns = map[string][]declPattern{
	"go": {
		{regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?(\w+)`), types.KindFunction},
		{regexp.MustCompile(`^type\s+(\w+)\s+(?:struct|interface)\b`), types.KindClass},
	},
	"python": {
		{regexp.MustCompile(`^(?:async\s+)?def\s+(\w+)`), types.KindFunction},
		{regexp.MustCompile(`^class\s+(\w+)`), types.KindClass},
	},
	"javascript": {
		{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(\w+)`), types.KindFunction},
		{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?class\s+(\w+)`), types.KindClass},
		{regexp.MustCompile(`^(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s*)?(?:\([^)]*\)|\w+)\s*=>`), types.KindFunction},
	},
	"java": {
		{regexp.MustCompile(`^(?:public\s+|final\s+|abstract\s+)*(?:class|interface|enum|record)\s+(\w+)`), types.KindClass},
	},
	"rust": {
		{regexp.MustCompile(`^(?:pub\s+)?(?:async\s+)?fn\s+(\w+)`), types.KindFunction},
		{regexp.MustCompile(`^(?:pub\s+)?(?:struct|enum|trait)\s+(\w+)`), types.KindClass},
	},
	"ruby": {
		{regexp.MustCompile(`^def\s+(?:self\.)?(\w+)`), types.KindFunction},
		{regexp.MustCompile(`^(?:class|module)\s+(\w+)`), types.KindClass},
	},
	"c": {
		{regexp.MustCompile(`^(?:static\s+)?\w[\w\s\*]*?\b(\w+)\s*\([^;]*$`), types.KindFunction},
	},
}

// Languages sharing another language's declaration shape.
var languageAliases = map[string]string{
	"typescript": "javascript",
	"jsx":        "javascript",
	"tsx":        "javascript",
	"kotlin":     "java",
	"cpp":        "c",
	"csharp":     "java",
}

// block is a contiguous span of lines covering one top-level declaration.
type block struct {
	name     string
	kind     string
	startIdx int // inclusive, 0-based
	endIdx   int // exclusive
}

// findBlocks scans lines for top-level declarations and extends each block
// to the line before the next declaration. Languages without patterns yield
// no blocks; the full-file chunk carries them alone.
func findBlocks(lines []string, language string) []block {
	lang := strings.ToLower(language)
	if alias, ok := languageAliases[lang]; ok {
		lang = alias
	}
	patterns, ok := declPatterns[lang]
	if !ok {
		return nil
	}

	var blocks []block
	for i, line := range lines {
		for _, p := range patterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if len(blocks) > 0 {
				blocks[len(blocks)-1].endIdx = i
			}
			blocks = append(blocks, block{name: m[1], kind: p.kind, startIdx: i, endIdx: len(lines)})
			break
		}
	}

	// Trim trailing blank lines from each block.
	for i := range blocks {
		for blocks[i].endIdx > blocks[i].startIdx+1 &&
			strings.TrimSpace(lines[blocks[i].endIdx-1]) == "" {
			blocks[i].endIdx--
		}
	}
	return blocks
}
