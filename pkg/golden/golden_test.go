package golden_test

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"routc/pkg/golden"
)

const twoCaseDoc = `# Fixture

## Addition folds at parse time

` + "```rout" + `
routine main() is print 1 + 2 end
` + "```" + `

` + "```wat-expect" + `
call $printInt
call $printNewline
` + "```" + `

## Loop counts to a bound

` + "```rout" + `
routine main() is
  var s : integer is 0;
  for i in 1..3 loop
    s := s + i;
  end
  print s;
end
` + "```" + `

` + "```wat-expect" + `
loop $for
` + "```" + `
`

func TestParseFileExtractsEachCase(t *testing.T) {
	cases, err := golden.ParseFile("fixture.md", []byte(twoCaseDoc))
	be.Err(t, err, nil)
	be.Equal(t, len(cases), 2)

	be.Equal(t, cases[0].Name, "Addition folds at parse time")
	be.True(t, strings.Contains(cases[0].Source, "print 1 + 2"))
	be.Equal(t, len(cases[0].WATContains), 2)

	be.Equal(t, cases[1].Name, "Loop counts to a bound")
	be.True(t, strings.Contains(cases[1].Source, "for i in 1..3"))
	be.Equal(t, cases[1].WATContains, []string{"loop $for"})
}

func TestParseFileRejectsOrphanExpectBlock(t *testing.T) {
	doc := "# Fixture\n\n## Orphan\n\n```wat-expect\ncall $printInt\n```\n"
	_, err := golden.ParseFile("fixture.md", []byte(doc))
	be.True(t, err != nil)
}

func TestParseFileRejectsEmptyDocument(t *testing.T) {
	_, err := golden.ParseFile("fixture.md", []byte("# Fixture\n\nnothing here.\n"))
	be.True(t, err != nil)
}
