package transform

import (
	"testing"

	"tubetrack/testutil"
)

func TestTransformStaysInPkg(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "transform is importable outside this module")
}
