package version

import (
	"fmt"
	"runtime/debug"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var readBuildInfo = debug.ReadBuildInfo

// Info возвращает версию, коммит и дату сборки. Значения приходят из -ldflags;
// если их нет, версия и коммит берутся из build info модуля.
func Info() (v, c, d string) {
	v, c, d = version, commit, date
	info, ok := readBuildInfo()
	if !ok {
		return v, c, d
	}
	if v == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		v = info.Main.Version
	}
	if c == "unknown" {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				c = setting.Value
			}
		}
	}
	return v, c, d
}

// GetVersion возвращает версию сборки для healthcheck и логов.
func GetVersion() string {
	v, _, _ := Info()
	return v
}

func String() string {
	v, c, d := Info()
	return fmt.Sprintf("version=%s commit=%s date=%s", v, c, d)
}
