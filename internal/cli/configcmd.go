package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/configreg"
	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "管理已验证配置登记表",
	Long: `提交候选配置值走完整验证管线，比对现场值检测漂移，
批量对账环境文件，以及查看/处理漂移审计记录。`,
}

var (
	submitSource      string
	submitSecret      bool
	submitOverride    bool
	submitDescription string
	checkSource       string
	reconcileSource   string
	showAllDiscs      bool
	resolveKey        string
)

var submitCmd = &cobra.Command{
	Use:   "submit <key> <value>",
	Short: "提交一个候选配置值",
	Args:  cobra.ExactArgs(2),
	Run:   runSubmit,
}

var checkCmd = &cobra.Command{
	Use:   "check <key> <value>",
	Short: "比对现场值与登记值",
	Args:  cobra.ExactArgs(2),
	Run:   runCheck,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <env-file>",
	Short: "按环境文件批量对账",
	Args:  cobra.ExactArgs(1),
	Run:   runReconcile,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "列出全部登记值（机密一律掩码）",
	Run:   runList,
}

var showCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "显示单个键的展示值（长值露出首尾两个字符）",
	Args:  cobra.ExactArgs(1),
	Run:   runShow,
}

var discrepanciesCmd = &cobra.Command{
	Use:   "discrepancies",
	Short: "列出漂移审计记录",
	Run:   runDiscrepancies,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [id]",
	Short: "标记漂移记录为已处理",
	Args:  cobra.MaximumNArgs(1),
	Run:   runResolve,
}

var deleteKeyCmd = &cobra.Command{
	Use:   "delete-key <key>",
	Short: "抹掉某个键的登记值，强制重新学习",
	Args:  cobra.ExactArgs(1),
	Run:   runDeleteKey,
}

func init() {
	submitCmd.Flags().StringVar(&submitSource, "source", "", "值所在的配置文件路径")
	submitCmd.Flags().BoolVar(&submitSecret, "secret", false, "按机密处理（批量读取时掩码）")
	submitCmd.Flags().BoolVar(&submitOverride, "override", false, "显式绕过在线验证（人工确认）")
	submitCmd.Flags().StringVar(&submitDescription, "description", "", "人类可读说明")
	checkCmd.Flags().StringVar(&checkSource, "source", "", "现场值来源文件")
	reconcileCmd.Flags().StringVar(&reconcileSource, "source", "", "覆盖记录的来源（默认取环境文件路径）")
	discrepanciesCmd.Flags().BoolVar(&showAllDiscs, "all", false, "包含已处理的记录")
	resolveCmd.Flags().StringVar(&resolveKey, "key", "", "处理该键的全部未决记录")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(submitCmd)
	configCmd.AddCommand(checkCmd)
	configCmd.AddCommand(reconcileCmd)
	configCmd.AddCommand(listCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(discrepanciesCmd)
	configCmd.AddCommand(resolveCmd)
	configCmd.AddCommand(deleteKeyCmd)
}

func runSubmit(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer store.Close()
	reg := newRegistry(store)

	var opts []configreg.SubmitOption
	if submitOverride {
		opts = append(opts, configreg.WithOverride())
	}
	if submitDescription != "" {
		opts = append(opts, configreg.WithDescription(submitDescription))
	}

	res, err := reg.Submit(ctx, args[0], args[1], submitSource, submitSecret, opts...)
	if err != nil {
		fmt.Printf("Rejected (%s): %v\n", res.Status, err)
		os.Exit(1)
	}
	fmt.Printf("Key: %s\nKind: %s\nStatus: %s\nStored: %v\n", res.Key, res.Kind, res.Status, res.Stored)
	if res.Reason != "" {
		fmt.Printf("Reason: %s\n", res.Reason)
	}
}

func runCheck(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer store.Close()
	reg := newRegistry(store)

	verdict, err := reg.ValidateAgainstRegistry(ctx, args[0], args[1], checkSource)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Verdict: %s\n", verdict)
	if verdict == configreg.VerdictMismatch {
		fmt.Println("Drift recorded; registered value left untouched. Use 'config discrepancies' to review.")
	}
}

func runReconcile(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	pairs, err := parseEnvFile(args[0])
	if err != nil {
		fmt.Printf("Error reading env file: %v\n", err)
		os.Exit(1)
	}

	source := reconcileSource
	if source == "" {
		source = args[0]
	}

	store := openStore(ctx)
	defer store.Close()
	reg := newRegistry(store)

	report, err := reg.BulkReconcile(ctx, pairs, source)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Matched: %d\nMismatched: %d\nNewly stored: %d\nRejected: %d\n",
		report.Matched, report.Mismatched, report.NewlyStored, report.Rejected)
}

func runList(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer store.Close()
	reg := newRegistry(store)

	rows, err := reg.All(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tSECRET\tVERIFIED\tMISMATCHES\tLAST_VERIFIED")
	for _, c := range rows {
		fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%d\t%s\n",
			c.ConfigKey, c.Value, c.IsSecret, c.VerifiedMatch, c.MismatchCount,
			c.LastVerified.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}

func runShow(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer store.Close()
	reg := newRegistry(store)

	display, err := reg.Display(ctx, args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s = %s\n", args[0], display)
}

func runDiscrepancies(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer store.Close()
	reg := newRegistry(store)

	rows, err := reg.Discrepancies(ctx, !showAllDiscs)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKEY\tSOURCE\tRESOLVED\tTIME")
	for _, d := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%v\t%s\n",
			d.ID, d.ConfigKey, d.SourceFile, d.Resolved, d.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}

func runResolve(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if len(args) == 0 && resolveKey == "" {
		fmt.Println("Error: provide a discrepancy id or --key")
		cmd.Usage()
		os.Exit(1)
	}

	store := openStore(ctx)
	defer store.Close()
	reg := newRegistry(store)

	if resolveKey != "" {
		if err := reg.ResolveAllForKey(ctx, resolveKey); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Resolved all discrepancies for %s\n", resolveKey)
		return
	}

	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Error: invalid id %q\n", args[0])
		os.Exit(1)
	}
	if err := reg.ResolveDiscrepancy(ctx, id); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Resolved discrepancy %d\n", id)
}

func runDeleteKey(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer store.Close()
	reg := newRegistry(store)

	if err := reg.DeleteKey(ctx, args[0]); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %s; it will be relearned on next submit.\n", args[0])
}

// parseEnvFile 读取 KEY=VALUE 格式的环境文件；跳过空行和注释，剥掉成对引号。
func parseEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	pairs := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		if key != "" {
			pairs[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}
