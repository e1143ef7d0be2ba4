package executor

import (
	"bytes"
	"fmt"

	"slice2series/core/models"
	"slice2series/storage"
)

// VerifyOutput re-reads a finished output and compares it byte for byte
// with the task's inputs. Streamed variables are checked starting at offset
// along the unlimited dimension, copied metadata against the reference.
func VerifyOutput(opener storage.Opener, layout Layout, task models.VariableTask, offset int) error {
	out, err := opener.Open(task.OutputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	copied, streamed := layout.Variables(task)

	if len(copied) > 0 {
		ref, err := opener.Open(layout.Reference)
		if err != nil {
			return err
		}
		defer ref.Close()
		for _, name := range copied {
			want, err := storage.ReadAll(ref, name)
			if err != nil {
				return err
			}
			got, err := storage.ReadAll(out, name)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", models.ErrVerification, task.OutputPath, err)
			}
			if !bytes.Equal(want.Data, got.Data) {
				return fmt.Errorf("%w: %s: variable %q differs from %s", models.ErrVerification, task.OutputPath, name, layout.Reference)
			}
		}
	}

	pos := offset
	for _, src := range task.Inputs {
		if src.Count == 0 {
			continue
		}
		if err := verifySlab(opener, out, layout.Unlimited, streamed, src, pos); err != nil {
			return fmt.Errorf("%w: %s: %v", models.ErrVerification, task.OutputPath, err)
		}
		pos += src.Count
	}
	return nil
}

// VerifyTail checks the last task.Steps() records of an output, which is
// where the most recent conversion of the task wrote.
func VerifyTail(opener storage.Opener, layout Layout, task models.VariableTask) error {
	out, err := opener.Open(task.OutputPath)
	if err != nil {
		return err
	}
	unlim, ok := out.Unlimited()
	out.Close()
	if !ok {
		return fmt.Errorf("%w: %s has no unlimited dimension", models.ErrVerification, task.OutputPath)
	}
	offset := unlim.Length - task.Steps()
	if offset < 0 {
		return fmt.Errorf("%w: %s holds %d records, inputs have %d", models.ErrVerification, task.OutputPath, unlim.Length, task.Steps())
	}
	return VerifyOutput(opener, layout, task, offset)
}

func verifySlab(opener storage.Opener, out storage.Reader, unlimited string, names []string, src models.SliceSource, pos int) error {
	in, err := opener.Open(src.Path)
	if err != nil {
		return err
	}
	defer in.Close()

	for _, name := range names {
		iv, err := in.Variable(name)
		if err != nil {
			return err
		}
		start, count, err := slab(iv, unlimited, src.Start, src.Count)
		if err != nil {
			return err
		}
		want, err := in.Read(name, start, count)
		if err != nil {
			return err
		}
		start[iv.DimIndex(unlimited)] = pos
		got, err := out.Read(name, start, count)
		if err != nil {
			return err
		}
		if !bytes.Equal(want.Data, got.Data) {
			return fmt.Errorf("variable %q records %d-%d differ from %s", name, pos, pos+src.Count-1, src.Path)
		}
	}
	return nil
}
