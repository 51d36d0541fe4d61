package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/storage"
	"github.com/spf13/cobra"
)

// storageCmd represents the storage command
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "查看与维护底层 SQLite 状态库",
}

var (
	rotateMaxBytes int64
	rotateKeep     int
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示库文件、schema 版本和各表行数",
	Run:   runInfo,
}

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "跑 PRAGMA integrity_check，损坏时非零退出",
	Run:   runIntegrity,
}

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "回收已删除数据占用的空间",
	Run:   runVacuum,
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "库文件超限时轮转为编号历史文件",
	Run:   runRotate,
}

func init() {
	rotateCmd.Flags().Int64Var(&rotateMaxBytes, "max-bytes", 256<<20, "触发轮转的文件大小上限")
	rotateCmd.Flags().IntVar(&rotateKeep, "keep", 3, "保留的历史代数")

	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(infoCmd)
	storageCmd.AddCommand(integrityCmd)
	storageCmd.AddCommand(vacuumCmd)
	storageCmd.AddCommand(rotateCmd)
}

func runInfo(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer store.Close()

	version, err := store.GetMetadata(ctx, storage.MetaSchemaVersion)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	created, _ := store.GetMetadata(ctx, storage.MetaCreated)
	lastReset, _ := store.GetMetadata(ctx, storage.MetaLastReset)

	fmt.Printf("Path: %s\n", cfg.Storage.Path)
	fmt.Printf("Schema version: %s\n", version)
	fmt.Printf("Created: %s\n", created)
	if lastReset != "" {
		fmt.Printf("Last reset: %s\n", lastReset)
	}
	if fi, err := os.Stat(cfg.Storage.Path); err == nil {
		fmt.Printf("Size: %d bytes\n", fi.Size())
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	tables := make([]string, 0, len(counts))
	for t := range counts {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tROWS")
	for _, t := range tables {
		fmt.Fprintf(w, "%s\t%d\n", t, counts[t])
	}
	w.Flush()
}

func runIntegrity(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer store.Close()

	ok, err := store.CheckIntegrity(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Println("Integrity check FAILED; data remains readable, repair from a backup.")
		os.Exit(1)
	}
	fmt.Println("Integrity check passed.")
}

func runVacuum(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer store.Close()

	if err := store.Vacuum(ctx); err != nil {
		fmt.Printf("Vacuum failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Vacuum complete.")
}

func runRotate(cmd *cobra.Command, args []string) {
	// 轮转走文件重命名，必须在库关闭状态下进行
	rotated, err := storage.RotateIfOversize(cfg.Storage.Path, rotateMaxBytes, rotateKeep)
	if err != nil {
		fmt.Printf("Rotate failed: %v\n", err)
		os.Exit(1)
	}
	if rotated {
		fmt.Println("Database rotated; a fresh file will be created on next open.")
	} else {
		fmt.Println("Database under the size limit, nothing to do.")
	}
}
