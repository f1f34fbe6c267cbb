// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runlog

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/bureau-foundation/runlog/lib/env"
)

// IdentityFile holds a run's identity in dotenv form inside the run
// directory. A resumed run reads it back to recover fields the new
// process was not given.
const IdentityFile = "run.env"

func writeIdentity(runDir string, id identity) error {
	values := map[string]string{env.RunID: id.RunID}
	set := func(key, value string) {
		if value != "" {
			values[key] = value
		}
	}
	set(env.Project, id.Project)
	set(env.Entity, id.Entity)
	set(env.RunGroup, id.Group)
	set(env.JobType, id.JobType)
	set(env.Tags, strings.Join(id.Tags, ","))
	if err := godotenv.Write(values, filepath.Join(runDir, IdentityFile)); err != nil {
		return fmt.Errorf("writing %s: %w", IdentityFile, err)
	}
	return nil
}

func readIdentity(runDir string) (identity, error) {
	values, err := godotenv.Read(filepath.Join(runDir, IdentityFile))
	if err != nil {
		return identity{}, err
	}
	lookup := env.FromMap(values)
	return identity{
		RunID:   lookup.Get(env.RunID),
		Project: lookup.Get(env.Project),
		Entity:  lookup.Get(env.Entity),
		Group:   lookup.Get(env.RunGroup),
		JobType: lookup.Get(env.JobType),
		Tags:    lookup.List(env.Tags),
	}, nil
}

// mergeIdentity fills fields missing from current with previous. The
// run id is never taken from previous.
func mergeIdentity(current, previous identity) identity {
	current.Project = firstNonEmpty(current.Project, previous.Project)
	current.Entity = firstNonEmpty(current.Entity, previous.Entity)
	current.Group = firstNonEmpty(current.Group, previous.Group)
	current.JobType = firstNonEmpty(current.JobType, previous.JobType)
	if len(current.Tags) == 0 {
		current.Tags = previous.Tags
	}
	return current
}

// environment returns the identity as RUNLOG_* overrides for a child
// process.
func (id identity) environment() map[string]string {
	return map[string]string{
		env.RunID:    id.RunID,
		env.Project:  id.Project,
		env.Entity:   id.Entity,
		env.RunGroup: id.Group,
		env.JobType:  id.JobType,
		env.Tags:     strings.Join(id.Tags, ","),
	}
}
