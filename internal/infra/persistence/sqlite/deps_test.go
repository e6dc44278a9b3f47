package sqlite

import (
	"testing"

	"tubetrack/testutil"
)

func TestImportsAreDomainOrMemory(t *testing.T) {
	testutil.AssertModuleImportsWithin(t, ".", "tubetrack/pkg/domain", "tubetrack/internal/infra/persistence/memory")
}
