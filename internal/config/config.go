package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"
)

type Config struct {
	Env         string
	ListenAddr  string
	DatabaseURL string
	LogLevel    string

	ReportWorkers  int
	ReportSchedule string
	ReportDays     int

	ES ElasticConfig

	InstitutionsURL string
	ProjectsURL     string
	ResourcesURL    string
	InstitutionsTTL time.Duration
	ProjectsTTL     time.Duration
	ResourcesTTL    time.Duration
	SnapshotDir     string
	OutputDir       string

	Mail MailConfig

	KafkaBrokers []string
	KafkaTopic   string
}

type ElasticConfig struct {
	Addresses    []string
	Username     string
	PasswordFile string
	CACert       string
	RawIndex     string
	TotalsIndex  string
	Timeout      time.Duration
	// Raw queries only count jobs submitted from AccessPoints or flocked in
	// through Collectors, and never jobs that ran on ExcludedResources.
	AccessPoints      []string
	Collectors        []string
	ExcludedResources []string
}

type MailConfig struct {
	From             string
	To               []string
	ReplyTo          string
	SMTPServer       string
	SMTPUsername     string
	SMTPPasswordFile string
}

var (
	defaultAccessPoints = []string{
		"ap20.uc.osg-htc.org",
		"ap2007.chtc.wisc.edu",
		"ap21.uc.osg-htc.org",
		"ap22.uc.osg-htc.org",
		"ap23.uc.osg-htc.org",
		"ap40.uw.osg-htc.org",
		"ap41.uw.osg-htc.org",
		"ap42.uw.osg-htc.org",
		"ap7.chtc.wisc.edu",
		"login04.osgconnect.net",
		"login05.osgconnect.net",
		"os-ce1.opensciencegrid.org",
	}
	defaultCollectors = []string{
		"cm-1.ospool.osg-htc.org",
		"cm-2.ospool.osg-htc.org",
		"flock.opensciencegrid.org",
	}
	defaultExcludedResources = []string{
		"SURFsara",
		"NIKHEF-ELPROD",
		"INFN-T1",
		"IN2P3-CC",
		"UIUC-ICC-SPT",
		"TACC-Frontera-CE2",
	}
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads the environment, after merging a .env file from the working
// directory if one exists. Variables already set win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:         getenv("APP_ENV", "development"),
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		ReportWorkers:  getenvInt("REPORT_WORKERS", 0),
		ReportSchedule: getenv("REPORT_SCHEDULE", "0 6 1 * *"),
		ReportDays:     getenvInt("REPORT_DAYS", 365),

		ES: ElasticConfig{
			Addresses:    getenvList("ES_ADDRESSES", []string{"http://localhost:9200"}),
			Username:     os.Getenv("ES_USERNAME"),
			PasswordFile: os.Getenv("ES_PASSWORD_FILE"),
			CACert:       os.Getenv("ES_CA_CERT"),
			RawIndex:     getenv("ES_RAW_INDEX", "osg_schedd_write"),
			TotalsIndex:  getenv("ES_TOTALS_INDEX", "daily_totals"),
			Timeout:      getenvDuration("ES_TIMEOUT", 180*time.Second),
			AccessPoints: getenvList("OSPOOL_APS", defaultAccessPoints),
			Collectors:   getenvList("OSPOOL_COLLECTORS", defaultCollectors),

			ExcludedResources: getenvList("NON_OSPOOL_RESOURCES", defaultExcludedResources),
		},

		InstitutionsURL: getenv("INSTITUTIONS_URL", "https://topology-institutions.osg-htc.org/api/institution_ids"),
		ProjectsURL:     getenv("PROJECTS_URL", "https://topology.opensciencegrid.org/miscproject/xml"),
		ResourcesURL:    getenv("RESOURCES_URL", "https://topology.opensciencegrid.org/rgsummary/xml"),
		InstitutionsTTL: getenvDuration("INSTITUTIONS_TTL", 20*time.Minute),
		ProjectsTTL:     getenvDuration("PROJECTS_TTL", 20*time.Minute),
		ResourcesTTL:    getenvDuration("RESOURCES_TTL", 23*time.Hour),
		SnapshotDir:     getenv("SNAPSHOT_DIR", "var/snapshots"),
		OutputDir:       getenv("OUTPUT_DIR", "var/output"),

		Mail: MailConfig{
			From:             getenv("MAIL_FROM", "accounting@chtc.wisc.edu"),
			To:               getenvList("MAIL_TO", nil),
			ReplyTo:          getenv("MAIL_REPLY_TO", "ospool-reports@path-cc.io"),
			SMTPServer:       os.Getenv("SMTP_SERVER"),
			SMTPUsername:     os.Getenv("SMTP_USERNAME"),
			SMTPPasswordFile: os.Getenv("SMTP_PASSWORD_FILE"),
		},

		KafkaBrokers: getenvList("KAFKA_BROKERS", nil),
		KafkaTopic:   getenv("KAFKA_TOPIC", "ospool-reports"),
	}
	if cfg.ReportDays <= 0 {
		return cfg, xerrors.Errorf("REPORT_DAYS must be positive, got %d", cfg.ReportDays)
	}
	if cfg.DatabaseURL == "" {
		// Not fatal for one-shot runs; callers decide.
		return cfg, ErrNoDatabase
	}
	return cfg, nil
}

var ErrNoDatabase = xerrors.New("DATABASE_URL not set")

// ReadSecret returns the trimmed contents of a password file. An empty path
// yields an empty secret.
func ReadSecret(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", xerrors.Errorf("read secret %s: %w", path, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return out
		}
	}
	return def
}

// getenvDuration accepts Go durations ("20m") or plain seconds ("1200").
func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
