package app

import (
	"fmt"
	"os"
	"path/filepath"
)

func printUsage() {
	prog := filepath.Base(os.Args[0])
	fmt.Printf(`%[1]s captures incoming webhooks, answers them with a canned response
and optionally forwards them to a target URL.

Usage:
  %[1]s serve [--listen ADDR] [--allow-remote] [--forward-mode async|manual] [--tail=false] [--log-level LEVEL] [--log-dev]
  %[1]s endpoints create [--name NAME] [--forward-url URL]
  %[1]s endpoints list
  %[1]s endpoints show ID [--json]
  %[1]s endpoints set ID [--name NAME] [--paused] [--status N] [--content-type CT] [--body BODY] [--header K=V]
                     [--forward-url URL] [--forward-enabled] [--forward-timeout MS] [--forward-header K=V]
                     [--capture-headers] [--capture-body] [--body-max-bytes N]
  %[1]s endpoints delete ID
  %[1]s requests tail [--endpoint ID] [--limit N] [--follow]
  %[1]s requests prune [--older-than 7d]
  %[1]s requests delete --endpoint ID (--request RID | --all)
  %[1]s forward --endpoint ID --request RID [--timeout MS]
  %[1]s report [--since 24h]
  %[1]s version

Every command accepts --dir DIR (default ~/.hookbin) and --config FILE.
HOOKBIN_* environment variables override the config file.

Examples:
  %[1]s endpoints create --name stripe --forward-url http://localhost:3000/webhooks
  %[1]s serve --listen 127.0.0.1:8788
  %[1]s requests tail --follow
  %[1]s forward --endpoint ENDPOINT_ID --request REQUEST_ID
  %[1]s requests prune --older-than 7d
`, prog)
}
