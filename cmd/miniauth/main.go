// miniauth はミニプログラムのログインとセッション管理を提供するAPIサーバー。
//
//	miniauth [serve]          APIサーバーを起動する
//	miniauth worker           期限切れセッションの定期削除を実行する
//	miniauth migrate [down [n]|version]
//	miniauth healthcheck      /health を叩いて終了コードで結果を返す
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/miniauth/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
