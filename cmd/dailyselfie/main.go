// dailyselfie は1日1枚のセルフィーを記録し、Google フォトに同期するサーバー。
//
// 使い方:
//
//	dailyselfie [serve|migrate|healthcheck]
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/dailyselfie/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
