package config_test

import (
	"errors"
	"testing"

	"github.com/vanenet/portmapd/internal/config"
)

func TestParseMinimalValidFlags(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]string{"-l", "0.0.0.0:7000", "-r", "10.0.0.1:8000", "-t"})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !cfg.TCP || cfg.UDP {
		t.Errorf("TCP/UDP = %v/%v, want true/false", cfg.TCP, cfg.UDP)
	}
	if cfg.SockBufKB != 1024 {
		t.Errorf("SockBufKB = %d, want default 1024", cfg.SockBufKB)
	}
	if cfg.Translation != config.Normal {
		t.Errorf("Translation = %v, want Normal", cfg.Translation)
	}
}

func TestParseMissingListenFails(t *testing.T) {
	t.Parallel()

	_, err := config.Parse([]string{"-r", "10.0.0.1:8000", "-t"})
	if !errors.Is(err, config.ErrMissingListen) {
		t.Fatalf("err = %v, want ErrMissingListen", err)
	}
}

func TestParseRequiresAtLeastOneProtocol(t *testing.T) {
	t.Parallel()

	_, err := config.Parse([]string{"-l", "0.0.0.0:7000", "-r", "10.0.0.1:8000"})
	if !errors.Is(err, config.ErrNoProtocol) {
		t.Fatalf("err = %v, want ErrNoProtocol", err)
	}
}

func TestParseTranslationFlagsMutuallyExclusive(t *testing.T) {
	t.Parallel()

	_, err := config.Parse([]string{"-l", "0.0.0.0:7000", "-r", "10.0.0.1:8000", "-t", "-4", "-6"})
	if !errors.Is(err, config.ErrBothTranslations) {
		t.Fatalf("err = %v, want ErrBothTranslations", err)
	}
}

func TestParseSockBufOutOfRange(t *testing.T) {
	t.Parallel()

	_, err := config.Parse([]string{"-l", "0.0.0.0:7000", "-r", "10.0.0.1:8000", "-t", "--sock-buf", "1"})
	if !errors.Is(err, config.ErrSockBufOutOfRange) {
		t.Fatalf("err = %v, want ErrSockBufOutOfRange", err)
	}
}

func TestParseColorLastWins(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]string{
		"-l", "0.0.0.0:7000", "-r", "10.0.0.1:8000", "-t",
		"--enable-color", "--disable-color",
	})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.ColorEnabled {
		t.Errorf("ColorEnabled = true, want false (--disable-color given last)")
	}
}

func TestParseNumericAndNamedLogLevelsAgree(t *testing.T) {
	t.Parallel()

	byName, err := config.Parse([]string{"-l", "0.0.0.0:7000", "-r", "10.0.0.1:8000", "-t", "--log-level", "debug"})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	byNumber, err := config.Parse([]string{"-l", "0.0.0.0:7000", "-r", "10.0.0.1:8000", "-t", "--log-level", "5"})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if byName.LogLevel != byNumber.LogLevel {
		t.Errorf("LogLevel by name = %v, by number = %v, want equal", byName.LogLevel, byNumber.LogLevel)
	}
}

func TestParseRunTestSkipsAddressValidation(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]string{"--run-test"})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !cfg.RunTest {
		t.Errorf("RunTest = false, want true")
	}
}

func TestParseVersionSkipsAddressValidation(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]string{"--version"})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !cfg.ShowVersion {
		t.Errorf("ShowVersion = false, want true")
	}
}
