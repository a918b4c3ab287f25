package app

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"snapback/internal/archive"
	"snapback/internal/encryption"
	"snapback/internal/vault"
)

// Restore fetches the archive of host's snapshot from the named vault and
// unpacks it into dest. passphrase unlocks the private key when archives
// are encrypted.
func (a *App) Restore(ctx context.Context, vaultName, host, snapshot, dest, passphrase string) error {
	err := a.restore(ctx, vaultName, host, snapshot, dest, passphrase)
	if err != nil {
		a.op.Observe(1)
		a.logger.Error("restore failed", "vault", vaultName, "host", host, "snapshot", snapshot, "error", err)
	}
	return err
}

func (a *App) restore(ctx context.Context, vaultName, host, snapshot, dest, passphrase string) error {
	vcfg, err := a.cfg.Vault(vaultName)
	if err != nil {
		return err
	}
	v, err := vault.NewVaultFromConfig(ctx, vcfg)
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	if err := v.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("vault %s: %w", vaultName, err)
	}

	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	key := archive.Key(host, snapshot, enc)
	ok, err := v.HasArchive(ctx, key)
	if err != nil {
		return fmt.Errorf("checking %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("no archive %s in vault %s", key, vaultName)
	}

	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return err
	}

	fetched, fetchW := io.Pipe()
	plain, plainW := io.Pipe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := v.GetArchive(gctx, key, fetchW)
		fetchW.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := dc.Decrypt(fetched, plainW)
		fetched.CloseWithError(err)
		plainW.CloseWithError(err)
		return err
	})

	var stats archive.Stats
	g.Go(func() error {
		var err error
		stats, err = archive.Extract(gctx, plain, dest, a.logger)
		plain.CloseWithError(err)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("restoring %s: %w", key, err)
	}

	fmt.Fprintf(a.streams.Out, "%s:%s -> %s\n", vaultName, key, dest)
	a.logger.Info("snapshot restored", "vault", vaultName, "key", key, "dest", dest,
		"files", stats.Files, "bytes", stats.Bytes)
	return nil
}

// BackupHistory writes a consistent copy of the history database to dest.
func (a *App) BackupHistory(dest string) error {
	if err := a.db.BackupTo(dest); err != nil {
		a.op.Observe(1)
		return err
	}
	a.logger.Info("history backed up", "dest", dest)
	return nil
}
