package utils

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/db-autofill/internal/connector"
	"github.com/vitebski/db-autofill/pkg/models"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// SetupLogging configures the logging system
func SetupLogging(logLevel string) *logrus.Logger {
	// Create a new logger
	logger := logrus.New()

	// Get log level from environment variable or parameter
	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv("AUTOFILL_LOG_LEVEL")
		if levelStr == "" {
			levelStr = "info"
		}
	}

	// Parse log level
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	// Configure logger
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stdout)

	logger.Debugf("Logging configured with level: %s", level)
	return logger
}

// LoadEnvironmentVariables loads environment variables from .env file
func LoadEnvironmentVariables(envFile string, logger *logrus.Logger) bool {
	// Check if a sample .env file exists but not the actual .env file
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		sampleEnvFile := envFile + ".sample"
		if _, err := os.Stat(sampleEnvFile); err == nil {
			logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
				envFile, sampleEnvFile, sampleEnvFile, envFile)
		}
	}

	// Load environment variables from .env file if it exists
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.Warningf("Error loading %s file: %v", envFile, err)
		} else {
			logger.Infof("Loaded environment variables from %s", envFile)
		}
	} else {
		logger.Debugf("No %s file found, using existing environment variables", envFile)
	}

	// SQLite only needs a database path
	requiredVars := []string{"DB_HOST", "DB_USER", "DB_NAME"}
	if strings.EqualFold(os.Getenv("DB_DRIVER"), connector.DriverSQLite) {
		requiredVars = []string{"DB_NAME"}
	}

	var missingVars []string
	for _, v := range requiredVars {
		if os.Getenv(v) == "" {
			missingVars = append(missingVars, v)
		}
	}

	if len(missingVars) > 0 {
		logger.Debugf("Missing connection environment variables: %s", strings.Join(missingVars, ", "))
		return false
	}

	// Log all available DB_* environment variables (for debugging)
	if logger.Level == logrus.DebugLevel {
		for _, env := range os.Environ() {
			if strings.HasPrefix(env, "DB_") {
				parts := strings.SplitN(env, "=", 2)
				if len(parts) == 2 {
					// Mask password
					if parts[0] == "DB_PASSWORD" {
						logger.Debugf("%s=********", parts[0])
					} else {
						logger.Debugf("%s=%s", parts[0], parts[1])
					}
				}
			}
		}
	}

	return true
}

// LookupEnvInt returns the integer value of an environment variable; false when it is unset or invalid
func LookupEnvInt(varName string) (int, bool) {
	value, ok := os.LookupEnv(varName)
	if !ok {
		return 0, false
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}

	return intValue, true
}

// ValidateConnectionParams validates database connection parameters
func ValidateConnectionParams(driver, host, user, password, database, port string, logger *logrus.Logger) bool {
	if _, err := connector.DialectFor(driver); err != nil {
		logger.Error(err)
		return false
	}

	if database == "" {
		logger.Error("Database name is required")
		return false
	}

	if strings.EqualFold(driver, connector.DriverSQLite) {
		return true
	}

	if host == "" {
		logger.Error("Database host is required")
		return false
	}

	if user == "" {
		logger.Error("Database user is required")
		return false
	}

	if password == "" { // Empty password is allowed
		logger.Warning("Database password is empty")
	}

	if port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			logger.Errorf("Invalid port number: %s", port)
			return false
		}
	}

	return true
}

// IsLocalHost reports whether host names this machine
func IsLocalHost(host string) bool {
	switch strings.ToLower(host) {
	case "", "localhost", "127.0.0.1", "::1", "host.docker.internal":
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ConfirmRemoteHost asks before writing to a database that is not on this machine.
// Without a terminal the run is refused unless assumeYes is set.
func ConfirmRemoteHost(driver, host string, assumeYes bool) error {
	if strings.EqualFold(driver, connector.DriverSQLite) || IsLocalHost(host) || assumeYes {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("refusing to write to remote host %s without --yes", host)
	}
	if !Confirm(fmt.Sprintf("Insert generated rows into the database on %s?", host), os.Stdin, os.Stdout) {
		return fmt.Errorf("aborted by user")
	}
	return nil
}

// Confirm prints question and reads a yes/no answer; anything but yes declines
func Confirm(question string, in io.Reader, out io.Writer) bool {
	fmt.Fprintf(out, "%s %s ", color.YellowString(question), "[y/N]")
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func statusText(status models.TableStatus) string {
	switch status {
	case models.Completed:
		return color.GreenString(status.String())
	case models.Failed:
		return color.RedString(status.String())
	default:
		return color.YellowString(status.String())
	}
}

// PrintSummary prints a summary of the population process
func PrintSummary(report *models.RunReport) {
	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("DATABASE POPULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 50))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Table", "Before", "Requested", "Inserted", "Retries", "Status", "Elapsed", "Error"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, res := range report.Results {
		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
		}
		table.Append([]string{
			res.Table,
			strconv.FormatInt(res.RowsBefore, 10),
			strconv.Itoa(res.RowsRequested),
			strconv.Itoa(res.RowsInserted),
			strconv.Itoa(res.Retries),
			statusText(res.Status),
			res.Elapsed.Round(time.Millisecond).String(),
			errText,
		})
	}
	table.Render()

	failed := report.Failed()
	fmt.Printf("\nTotal tables processed: %d\n", len(report.Results))
	fmt.Printf("Successfully populated tables: %d\n", len(report.Results)-len(failed))
	fmt.Printf("Failed tables: %d\n", len(failed))
	fmt.Printf("Total records inserted: %d\n", report.TotalInserted())
	fmt.Printf("Elapsed: %s\n", report.Elapsed.Round(time.Millisecond))

	if len(failed) > 0 {
		color.Red("\nFailed tables:")
		for _, name := range failed {
			fmt.Printf("  - %s\n", name)
		}
	}

	fmt.Println(strings.Repeat("=", 50))
}

func tableCategory(ts *models.TableSchema) string {
	selfRef := false
	for _, fk := range ts.ForeignKeys {
		if fk.IsSelfReference() {
			selfRef = true
		}
	}
	switch {
	case len(ts.ReferencedTables()) > 0 && selfRef:
		return "Dependent, self-referencing"
	case selfRef:
		return "Self-referencing"
	case len(ts.ReferencedTables()) > 0:
		return "Dependent"
	default:
		return "Standalone"
	}
}

// PrintSchemaAnalysis prints a detailed analysis of the introspected schema and its fill order
func PrintSchemaAnalysis(schema *models.SchemaInfo, order []string, levels [][]string) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("DATABASE SCHEMA ANALYSIS REPORT")
	fmt.Println(strings.Repeat("=", 80))

	// Basic statistics
	withFKs, unsupported := 0, 0
	for _, name := range schema.Closure {
		ts := schema.Tables[name]
		if len(ts.ForeignKeys) > 0 {
			withFKs++
		}
		for _, col := range ts.Columns {
			unsupported += len(col.UnsupportedChecks)
		}
	}

	fmt.Println("\n1. BASIC STATISTICS")
	fmt.Printf("   Requested tables: %d\n", len(schema.Requested))
	fmt.Printf("   Tables including referenced ones: %d\n", len(schema.Closure))
	fmt.Printf("   Tables with foreign keys: %d\n", withFKs)
	fmt.Printf("   Unsupported CHECK constraints: %d\n", unsupported)

	fmt.Println("\n2. TABLES")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Table", "Columns", "Primary key", "Foreign keys", "Unique sets", "Category"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, name := range schema.Closure {
		ts := schema.Tables[name]
		var fks []string
		for _, fk := range ts.ForeignKeys {
			fks = append(fks, fmt.Sprintf("(%s) -> %s(%s)", strings.Join(fk.Columns, ", "),
				fk.ReferencedTable, strings.Join(fk.ReferencedColumns, ", ")))
		}
		table.Append([]string{
			name,
			strconv.Itoa(len(ts.Columns)),
			strings.Join(ts.PrimaryKey, ", "),
			strings.Join(fks, "; "),
			strconv.Itoa(len(ts.UniqueConstraints)),
			tableCategory(ts),
		})
	}
	table.Render()

	if unsupported > 0 {
		fmt.Println("\n3. UNSUPPORTED CHECK CONSTRAINTS")
		for _, name := range schema.Closure {
			for _, col := range schema.Tables[name].Columns {
				for _, check := range col.UnsupportedChecks {
					fmt.Printf("   %s.%s: %s\n", name, col.Name, color.YellowString(check))
				}
			}
		}
	}

	fmt.Println("\n4. TABLE FILL ORDER")
	for i, name := range order {
		marker := ""
		if !schema.IsRequested(name) {
			marker = " (referenced only)"
		}
		fmt.Printf("   %3d. %s%s\n", i+1, name, marker)
	}

	if len(levels) > 1 {
		fmt.Println("\n5. PARALLEL FILL LEVELS")
		for i, level := range levels {
			fmt.Printf("   %3d. %s\n", i+1, strings.Join(level, ", "))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
}

// VerificationIssue is a table whose row count does not match what the run reported
type VerificationIssue struct {
	Table    string
	Expected int64
	Actual   int64
	Err      error
}

// VerifyRowCounts re-counts every table of the report and checks that it grew by exactly the
// number of rows reported as inserted
func VerifyRowCounts(ctx context.Context, db *connector.DatabaseConnector, report *models.RunReport, logger *logrus.Logger) (bool, []VerificationIssue) {
	logger.Info("Verifying row counts...")

	var issues []VerificationIssue
	for _, res := range report.Results {
		expected := res.RowsBefore + int64(res.RowsInserted)
		count, err := db.CountRows(ctx, db.DB, res.Table)
		if err != nil {
			logger.Warningf("Could not verify record count for table: %s", res.Table)
			issues = append(issues, VerificationIssue{Table: res.Table, Expected: expected, Err: err})
			continue
		}

		if count != expected {
			logger.Warningf("Table %s has %d records, expected %d", res.Table, count, expected)
			issues = append(issues, VerificationIssue{Table: res.Table, Expected: expected, Actual: count})
		}
	}

	if len(issues) == 0 {
		logger.Info("Verification successful: every table grew by the reported number of rows")
	} else {
		logger.Errorf("Verification failed for %d table(s)", len(issues))
	}

	return len(issues) == 0, issues
}

// PrintVerificationResults prints the results of the row count verification
func PrintVerificationResults(issues []VerificationIssue) {
	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("TABLE POPULATION VERIFICATION RESULTS")
	fmt.Println(strings.Repeat("=", 50))

	if len(issues) == 0 {
		color.Green("✅ All row counts match the report")
		fmt.Println(strings.Repeat("=", 50))
		return
	}

	color.Red("❌ %d table(s) do not match:", len(issues))
	for _, issue := range issues {
		if issue.Err != nil {
			fmt.Printf("  - %s: %v\n", issue.Table, issue.Err)
			continue
		}
		fmt.Printf("  - %s: %d/%d records\n", issue.Table, issue.Actual, issue.Expected)
	}

	fmt.Println(strings.Repeat("=", 50))
}

// reportFile is the serialized form of a run report
type reportFile struct {
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Elapsed   string        `json:"elapsed" yaml:"elapsed"`
	Order     []string      `json:"order" yaml:"order"`
	Inserted  int           `json:"inserted" yaml:"inserted"`
	Succeeded bool          `json:"succeeded" yaml:"succeeded"`
	Tables    []tableReport `json:"tables" yaml:"tables"`
}

type tableReport struct {
	Table         string   `json:"table" yaml:"table"`
	RowsBefore    int64    `json:"rows_before" yaml:"rows_before"`
	RowsRequested int      `json:"rows_requested" yaml:"rows_requested"`
	RowsInserted  int      `json:"rows_inserted" yaml:"rows_inserted"`
	Status        string   `json:"status" yaml:"status"`
	Retries       int      `json:"retries" yaml:"retries"`
	Elapsed       string   `json:"elapsed" yaml:"elapsed"`
	Error         string   `json:"error,omitempty" yaml:"error,omitempty"`
	BatchErrors   []string `json:"batch_errors,omitempty" yaml:"batch_errors,omitempty"`
}

func newReportFile(report *models.RunReport) reportFile {
	out := reportFile{
		StartedAt: report.StartedAt,
		Elapsed:   report.Elapsed.String(),
		Order:     report.Order,
		Inserted:  report.TotalInserted(),
		Succeeded: report.Succeeded(),
	}
	for _, res := range report.Results {
		tr := tableReport{
			Table:         res.Table,
			RowsBefore:    res.RowsBefore,
			RowsRequested: res.RowsRequested,
			RowsInserted:  res.RowsInserted,
			Status:        res.Status.String(),
			Retries:       res.Retries,
			Elapsed:       res.Elapsed.String(),
		}
		if res.Err != nil {
			tr.Error = res.Err.Error()
		}
		for _, rowErr := range res.Errors {
			tr.BatchErrors = append(tr.BatchErrors, fmt.Sprintf("batch %d row %d: %v", rowErr.Batch, rowErr.Row, rowErr.Err))
		}
		out.Tables = append(out.Tables, tr)
	}
	return out
}

// WriteReport writes the run report as YAML or JSON, chosen by the file extension
func WriteReport(path string, report *models.RunReport) error {
	data := newReportFile(report)

	var content []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		content, err = yaml.Marshal(data)
	case ".json":
		content, err = json.MarshalIndent(data, "", "  ")
	default:
		return fmt.Errorf("unsupported report format %q, use .yaml or .json", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}
