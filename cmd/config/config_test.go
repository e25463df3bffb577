package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"github.com/tkeycoin2/wirenode/internal/testutil"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")
	if AppConfig.Network.UserAgent != "/wirenode:0.1.0/" {
		t.Fatalf("unexpected user agent: %s", AppConfig.Network.UserAgent)
	}
	if AppConfig.Limits.MaxPeers != 125 {
		t.Fatalf("unexpected max peers: %d", AppConfig.Limits.MaxPeers)
	}
}

func TestLoadConfigOverride(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("bootstrap")
	if AppConfig.Limits.MaxPeers != 100 {
		t.Fatalf("expected MaxPeers 100, got %d", AppConfig.Limits.MaxPeers)
	}
	if AppConfig.Network.UserAgent != "/wirenode:bootstrap/" {
		t.Fatalf("expected overridden user agent")
	}
}

func TestLoadConfigSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("network:\n  user_agent: sandbox\n  magic: 99\n")
	if err := sb.WriteFile("config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.Network.UserAgent != "sandbox" {
		t.Fatalf("expected user agent sandbox, got %s", AppConfig.Network.UserAgent)
	}
	if AppConfig.Network.Magic != 99 {
		t.Fatalf("expected magic 99, got %d", AppConfig.Network.Magic)
	}
}
