/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package alarm

import (
	"context"
	"sync"

	"github.com/carverauto/plcgateway/pkg/models"
)

// MemoryRepository keeps definitions and instances in process memory.
type MemoryRepository struct {
	mu          sync.RWMutex
	definitions []*models.AlarmDefinition
	instances   []*models.AlarmInstance
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns a repository seeded with defs.
func NewMemoryRepository(defs ...*models.AlarmDefinition) *MemoryRepository {
	r := &MemoryRepository{}
	for _, d := range defs {
		r.AddDefinition(d)
	}

	return r
}

// AddDefinition stores a copy of def.
func (r *MemoryRepository) AddDefinition(def *models.AlarmDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := *def
	r.definitions = append(r.definitions, &d)
}

// FindActiveDefinitions returns the active definitions bound to the device register.
// Definitions without a register never match.
func (r *MemoryRepository) FindActiveDefinitions(_ context.Context, deviceID, registerID string) ([]*models.AlarmDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.AlarmDefinition

	for _, d := range r.definitions {
		if !d.IsActive || d.DeviceID != deviceID {
			continue
		}

		if d.RegisterID == "" || d.RegisterID != registerID {
			continue
		}

		c := *d
		out = append(out, &c)
	}

	return out, nil
}

func (r *MemoryRepository) FindActiveInstance(_ context.Context, definitionID string) (*models.AlarmInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, inst := range r.instances {
		if inst.DefinitionID == definitionID && inst.Active() {
			c := *inst
			return &c, nil
		}
	}

	return nil, nil
}

func (r *MemoryRepository) CreateInstance(_ context.Context, inst *models.AlarmInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst.Active() {
		for _, existing := range r.instances {
			if existing.DefinitionID == inst.DefinitionID && existing.Active() {
				return ErrActiveInstanceExists
			}
		}
	}

	c := *inst
	r.instances = append(r.instances, &c)

	return nil
}

func (r *MemoryRepository) UpdateInstance(_ context.Context, inst *models.AlarmInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.instances {
		if existing.ID == inst.ID {
			c := *inst
			r.instances[i] = &c

			return nil
		}
	}

	return ErrInstanceNotFound
}

// Instances returns copies of every instance recorded for definitionID, oldest first.
func (r *MemoryRepository) Instances(definitionID string) []models.AlarmInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.AlarmInstance

	for _, inst := range r.instances {
		if inst.DefinitionID == definitionID {
			out = append(out, *inst)
		}
	}

	return out
}
