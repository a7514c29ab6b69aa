package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はクリーンアップワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistroless環境でのDockerヘルスチェックを実行することを示す。
	CommandHealthcheck Command = "healthcheck"
	// CommandIssueLink はクリニックのクレームリンクを発行することを示す。
	CommandIssueLink Command = "issue-link"
)

// ErrUsage はコマンドライン引数が不正であることを示す。
var ErrUsage = errors.New("invalid arguments")

// Usage はサブコマンドの一覧。
const Usage = `usage: clinicclaim <command>

commands:
  serve                    start the HTTP API (default)
  worker                   run periodic cleanup and serve /metrics
  migrate                  apply database migrations
  healthcheck              probe the local /health endpoint
  issue-link <clinic-id>   issue a new claim link for an unclaimed clinic`

// Invocation は解析済みのコマンドライン。
type Invocation struct {
	Command  Command
	ClinicID string // issue-linkのみ
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はserveとして扱う。未知のコマンドや不足した引数はErrUsageを返す。
func ParseCommand(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{Command: CommandServe}, nil
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck:
		return Invocation{Command: cmd}, nil
	case CommandIssueLink:
		if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
			return Invocation{}, fmt.Errorf("%w: issue-link requires a clinic ID\n%s", ErrUsage, Usage)
		}
		id, err := uuid.Parse(strings.TrimSpace(args[1]))
		if err != nil {
			return Invocation{}, fmt.Errorf("%w: clinic ID %q is not a UUID\n%s", ErrUsage, args[1], Usage)
		}
		return Invocation{Command: cmd, ClinicID: id.String()}, nil
	default:
		return Invocation{}, fmt.Errorf("%w: unknown command %q\n%s", ErrUsage, args[0], Usage)
	}
}
