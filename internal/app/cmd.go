package app

import "errors"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモード（定期実行と音声掃除）で起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandProcess は指定ユーザーのパイプラインを1回だけ実行することを示す。
	CommandProcess Command = "process"
)

// errMissingOwnerID はprocessコマンドにユーザーIDが渡されなかったことを示す。
var errMissingOwnerID = errors.New("usage: process <owner-id>")

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	case "process":
		return CommandProcess
	default:
		return CommandServe
	}
}

// processOwnerID はprocessコマンドの対象ユーザーIDを返す。
func processOwnerID(args []string) (string, error) {
	if len(args) < 2 || args[1] == "" {
		return "", errMissingOwnerID
	}
	return args[1], nil
}
