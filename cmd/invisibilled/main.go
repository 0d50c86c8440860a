// Command invisibilled は請求管理APIサーバーとバックグラウンドワーカーを起動する。
//
// 使い方:
//
//	invisibilled [serve|worker|migrate|healthcheck]
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/hitoshi/invisibilled/internal/app"
)

func main() {
	// ローカル開発用。.envがなければ環境変数のみを使う
	_ = godotenv.Load()

	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
