package shadowlend

import (
	"os"
	"testing"

	"github.com/iotaledger/hive.go/app/configuration"
	appLogger "github.com/iotaledger/hive.go/app/logger"
)

// logger.NewLogger panics without a configured global logger.
func TestMain(m *testing.M) {
	if err := appLogger.InitGlobalLogger(configuration.New()); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
