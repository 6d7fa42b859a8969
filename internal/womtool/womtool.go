// Package womtool validates WDL sources by shelling out to the womtool
// jar (spec §4.4/§6), the same os/exec subprocess pattern
// internal/trigger/trigger.go's ExecuteCommand uses for shell triggers and
// internal/gitmirror uses for the git CLI — no example repo's go.mod
// vendors a WDL parser, so invoking the real womtool.jar via exec is the
// grounded choice over a fabricated parsing dependency.
package womtool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Result is the outcome of a single validate invocation, cached by content
// hash in the wdl_hashes table (spec §4.4).
type Result struct {
	OK      bool
	Message string
}

// Validator invokes womtool against a WDL source written to a temp file.
type Validator struct {
	jarPath string
	javaBin string
}

// New constructs a Validator. jarPath is WomtoolConfig.JarLocation.
func New(jarPath string) *Validator {
	return &Validator{jarPath: jarPath, javaBin: "java"}
}

// NewWithJavaBin constructs a Validator against an arbitrary java
// executable, for tests that stand in a fake JVM rather than requiring a
// real womtool install.
func NewWithJavaBin(jarPath, javaBin string) *Validator {
	return &Validator{jarPath: jarPath, javaBin: javaBin}
}

// Validate runs `java -jar womtool.jar validate <source>` against wdlSource,
// returning the pass/fail result and womtool's combined output as Message.
func (v *Validator) Validate(ctx context.Context, wdlSource []byte) (Result, error) {
	tmp, err := os.CreateTemp("", "carrot-wdl-*.wdl")
	if err != nil {
		return Result{}, fmt.Errorf("womtool: create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(wdlSource); err != nil {
		_ = tmp.Close()
		return Result{}, fmt.Errorf("womtool: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("womtool: close temp file: %w", err)
	}

	cmd := exec.CommandContext(ctx, v.javaBin, "-jar", v.jarPath, "validate", tmp.Name())
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err = cmd.Run()

	message := out.String()
	if err != nil {
		var exitErr *exec.ExitError
		if ok := exitErrorAs(err, &exitErr); ok {
			return Result{OK: false, Message: message}, nil
		}
		return Result{}, fmt.Errorf("womtool: run validate: %w", err)
	}
	return Result{OK: true, Message: message}, nil
}

func exitErrorAs(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}
