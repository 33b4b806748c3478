package config

import (
	"os"
	"path/filepath"
)

// ValidateParams 额外检查依赖文件系统的参数（静态资源目录、状态目录、覆盖文件）。
// Validate 只检查取值，这里在启动前检查路径。
func ValidateParams(cfg AppConfig) error {
	if cfg.HTTP.StaticDir != "" {
		info, err := os.Stat(cfg.HTTP.StaticDir)
		if err != nil || !info.IsDir() {
			return ErrInvalid("http.staticDir " + cfg.HTTP.StaticDir + " is not a directory")
		}
	}
	if cfg.Store.Path != "" {
		dir := filepath.Dir(cfg.Store.Path)
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			return ErrInvalid("store.path parent " + dir + " is not a directory")
		}
	}
	if cfg.Reload.Path != "" {
		if _, err := os.Stat(filepath.Dir(cfg.Reload.Path)); err != nil {
			return ErrInvalid("reload.path directory does not exist: " + filepath.Dir(cfg.Reload.Path))
		}
	}
	return nil
}

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }
