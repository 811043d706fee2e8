package vm

import "github.com/tliron/commonlog"

// log fetches the logger at call time: the backend is installed by the
// embedding program, usually after this package is initialized.
func log() commonlog.Logger {
	return commonlog.GetLogger("roxor.vm")
}
