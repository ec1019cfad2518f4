package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/faanross/hermnet/internal/config"
	"github.com/faanross/hermnet/internal/directory"
	"github.com/faanross/hermnet/internal/history"
	"github.com/faanross/hermnet/internal/pipeline"
	"github.com/faanross/hermnet/internal/scrypto"
	"github.com/faanross/hermnet/internal/spec"
	"github.com/faanross/hermnet/internal/stego"
)

func runSend(ctx context.Context, cfg *config.Client, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.String("to", "", "Recipient handle")
	message := fs.String("message", "", "Message text (read from -input if empty)")
	input := fs.String("input", "", "File holding the message")
	coverFile := fs.String("cover", "", "Cover PNG (default synthetic 64x64 cover)")
	out := fs.String("out", "", "Also write the stego packet as PNG")
	fs.Parse(args)

	if *to == "" {
		return errors.New("-to is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	plaintext := []byte(*message)
	if len(plaintext) == 0 && *input != "" {
		data, err := os.ReadFile(*input)
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		plaintext = data
	}
	if len(plaintext) == 0 {
		return errors.New("nothing to send: use -message or -input")
	}

	var cover []byte
	width := spec.COVER_WIDTH
	if *coverFile != "" {
		var err error
		if cover, width, err = readCarrier(*coverFile); err != nil {
			return err
		}
	}

	svc, err := newService(cfg)
	if err != nil {
		return err
	}

	packet, err := svc.SendMessage(ctx, pipeline.SendRequest{RecipientHandle: *to, Plaintext: plaintext, Cover: cover})
	if err != nil {
		return err
	}

	fmt.Printf("✅ Message sent to %s\n", *to)
	fmt.Printf("   Plaintext: %d bytes\n", len(plaintext))
	fmt.Printf("   Packet:    %d bytes (%d pixels)\n", len(packet), len(packet)/spec.PIXEL_SIZE)
	fmt.Printf("   Crypto:    %s, transport: %s\n", cfg.Crypto, cfg.Transport)

	if *out != "" {
		if err := writeCarrier(*out, packet, width); err != nil {
			return err
		}
		fmt.Printf("💾 Packet saved to %s\n", *out)
	}
	return nil
}

func runSync(ctx context.Context, cfg *config.Client, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	policy := fs.String("policy", "", "Failure policy: abort or skip (overrides config)")
	watch := fs.Duration("watch", 0, "Keep polling at this interval until interrupted")
	fs.Parse(args)

	if *policy != "" {
		cfg.Inbox.Policy = *policy
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	privateKey, err := loadPrivateKey(cfg.Keys.PrivateKeyFile)
	if err != nil {
		return err
	}

	svc, err := newService(cfg)
	if err != nil {
		return err
	}

	if *watch <= 0 {
		n, err := syncOnce(ctx, svc, cfg.Handle, privateKey)
		if err == nil && n == 0 {
			fmt.Printf("📭 No new messages for %s\n", cfg.Handle)
		}
		return err
	}

	fmt.Printf("👁️ Watching mailbox for %s every %v (Ctrl+C to stop)\n", cfg.Handle, *watch)
	idle := 0
	for {
		n, err := syncOnce(ctx, svc, cfg.Handle, privateKey)
		switch {
		case err != nil:
			logrus.WithFields(logrus.Fields{"function": "runSync", "error": err}).Warn("Sync failed")
		case n == 0:
			idle++
		default:
			idle = 0
		}

		// back off once the mailbox has been idle for a while
		wait := *watch
		if idle > 5 {
			wait *= 2
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func syncOnce(ctx context.Context, svc *pipeline.Service, handle string, privateKey []byte) (int, error) {
	messages, err := svc.SyncInbox(ctx, handle, privateKey)
	var inboxErr *pipeline.InboxError
	if err != nil && !errors.As(err, &inboxErr) {
		return 0, err
	}

	if len(messages) > 0 || inboxErr != nil {
		fmt.Printf("📬 %d new messages for %s\n", len(messages), handle)
	}
	for i, m := range messages {
		fmt.Println(strings.Repeat("=", 60))
		fmt.Printf("[%d]\n%s\n", i+1, m)
	}
	if len(messages) > 0 {
		fmt.Println(strings.Repeat("=", 60))
	}

	if inboxErr != nil {
		for _, f := range inboxErr.Failures {
			fmt.Printf("⚠️  skipped packet %d: %v\n", f.Index, f.Err)
		}
	}
	return len(messages), nil
}

func runHistory(ctx context.Context, cfg *config.Client, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	status := fs.String("status", "", "Only show PENDING, SENT or DELIVERED")
	fs.Parse(args)

	var filter *history.Status
	if *status != "" {
		s, err := history.ParseStatus(*status)
		if err != nil {
			return err
		}
		filter = &s
	}

	hist, err := history.NewFile(cfg.History.File)
	if err != nil {
		return err
	}
	records, err := hist.List(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("📜 History (%s)\n", cfg.History.File)
	for _, r := range records {
		if filter != nil && r.Status != *filter {
			continue
		}
		// sent records hold ciphertext
		content := fmt.Sprintf("<%d bytes ciphertext>", len(r.Content))
		if r.Status == history.StatusDelivered {
			content = string(r.Content)
		}
		fmt.Printf("%s  %-9s  %s  %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"), r.Status, r.ID, content)
	}
	return nil
}

func runAnalyze(_ context.Context, _ *config.Client, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	input := fs.String("input", "", "PNG to analyze")
	fs.Parse(args)

	if *input == "" {
		return errors.New("-input is required")
	}
	carrier, width, err := readCarrier(*input)
	if err != nil {
		return err
	}

	a := stego.Analyze(carrier)
	fmt.Println("\n🔍 LSB Analysis")
	fmt.Println("=" + strings.Repeat("=", 40))
	fmt.Printf("   Image:        %dx%d\n", width, len(carrier)/spec.PIXEL_SIZE/width)
	fmt.Printf("   Channels:     %d\n", a.Channels)
	fmt.Printf("   LSB entropy:  %.4f bits/byte (max 8.0)\n", a.Entropy)
	fmt.Printf("   Zero bits:    %.2f%%\n", a.ZeroRatio*100)
	fmt.Printf("   Mean RGB:     %.1f, %.1f, %.1f\n", a.MeanR, a.MeanG, a.MeanB)
	fmt.Printf("   Verdict:      %s\n", a.Verdict)
	return nil
}

func runCapacity(_ context.Context, _ *config.Client, args []string) error {
	fs := flag.NewFlagSet("capacity", flag.ExitOnError)
	input := fs.String("input", "", "Cover PNG (default synthetic cover)")
	sentinel := fs.Int("sentinel", len(spec.DefaultSentinel), "Sentinel length in bytes")
	fs.Parse(args)

	carrier := stego.DefaultCarrier()
	if *input != "" {
		var err error
		if carrier, _, err = readCarrier(*input); err != nil {
			return err
		}
	}

	fmt.Printf("📐 Usable channels: %d\n", stego.UsableChannels(carrier))
	fmt.Printf("📦 Payload capacity: %d bytes\n", stego.CapacityBytes(carrier, *sentinel))
	return nil
}

func runSealKey(_ context.Context, _ *config.Client, args []string) error {
	fs := flag.NewFlagSet("seal-key", flag.ExitOnError)
	in := fs.String("in", "", "Raw private key file")
	out := fs.String("out", "", "Sealed output file")
	fs.Parse(args)

	if *in == "" || *out == "" {
		return errors.New("-in and -out are required")
	}

	key, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}
	if scrypto.IsSealed(key) {
		return fmt.Errorf("%s is already sealed", *in)
	}

	passphrase, err := scrypto.ReadPassphrase(fmt.Sprintf("🔑 Passphrase (min %d chars): ", spec.MIN_PASSPHRASE))
	if err != nil {
		return err
	}
	confirm, err := scrypto.ReadPassphrase("🔑 Confirm passphrase: ")
	if err != nil {
		return err
	}
	if !bytes.Equal(passphrase, confirm) {
		return errors.New("passphrases do not match")
	}

	sealed, err := scrypto.SealPrivateKey(key, passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, sealed, 0o600); err != nil {
		return fmt.Errorf("failed to write sealed key: %w", err)
	}

	fmt.Printf("✅ Sealed key written to %s (AES-256-GCM + PBKDF2-%d)\n", *out, spec.PBKDF2_ITERS)
	return nil
}

func runContact(_ context.Context, cfg *config.Client, args []string) error {
	fs := flag.NewFlagSet("contact", flag.ExitOnError)
	handle := fs.String("handle", "", "Contact handle")
	keyFile := fs.String("key", "", "Public key file")
	fs.Parse(args)

	if *handle == "" || *keyFile == "" {
		return errors.New("-handle and -key are required")
	}

	key, err := os.ReadFile(*keyFile)
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}

	contacts, err := directory.NewFile(cfg.Contacts.File)
	if err != nil {
		return err
	}
	if err := contacts.Add(*handle, key); err != nil {
		return err
	}

	fmt.Printf("✅ Added %s (%d byte key) to %s\n", *handle, len(key), cfg.Contacts.File)
	return nil
}
