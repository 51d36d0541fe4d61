package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/config"
	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/configreg"
	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/storage"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd 是没有子命令时调用的基础命令
var rootCmd = &cobra.Command{
	Use:   "aegisstate",
	Short: "Aegis 运行状态存储与配置登记工具",
	Long: `aegisstate 维护 Aegis 部署的运行遥测（代理结果、错误、容器生命周期、
日志量）和已验证配置登记表，提供漂移审计与维护命令。`,
}

// Execute 将所有子命令添加到根命令并适当设置标志。
// 这由 main.main() 调用。它只需要对 rootCmd 调用一次。
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件（默认按 ./config.yaml、$HOME/.aegisstate/config.yaml 搜索）")
}

// initConfig 读取配置文件和环境变量（如果已设置）。
func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
}

// openStore 打开存储；失败直接退出当前命令进程。
func openStore(ctx context.Context) *storage.Storage {
	if cfg == nil {
		fmt.Println("Config not loaded")
		os.Exit(1)
	}
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	return store
}

// newRegistry 按配置构造登记表；在线验证未启用时 checker 为 nil，
// 所有在线验证分支退化为 unknown。
func newRegistry(store *storage.Storage) *configreg.Registry {
	var checker configreg.LiveChecker
	if cfg.Registry.LiveCheck.Enabled {
		checker = configreg.PgxChecker{
			Host:           cfg.Registry.LiveCheck.Host,
			Port:           cfg.Registry.LiveCheck.Port,
			DBName:         cfg.Registry.LiveCheck.Database,
			RootUser:       cfg.Registry.LiveCheck.RootUser,
			ConnectTimeout: cfg.Registry.LiveCheck.ConnectTimeout,
		}
	}
	r, err := configreg.New(store, configreg.DefaultTable(), checker)
	if err != nil {
		fmt.Printf("Error building registry: %v\n", err)
		os.Exit(1)
	}
	return r
}
