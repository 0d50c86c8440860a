package app

import (
	"fmt"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限超過の請求書を定期更新するワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// commands は対応しているサブコマンドの一覧（usage表示順）。
var commands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。
// サポート外のコマンドの場合はfalseを返し、誤ったコマンドでサーバーが起動しないようにする。
func ParseCommand(args []string) (Command, bool) {
	if len(args) == 0 {
		return CommandServe, true
	}

	for _, c := range commands {
		if args[0] == string(c) {
			return c, true
		}
	}
	return "", false
}

// usageError はサポート外のコマンドに対するエラーを返す。
func usageError(arg string) error {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c)
	}
	return fmt.Errorf("unknown command %q (usage: invisibilled [%s])", arg, strings.Join(names, "|"))
}
