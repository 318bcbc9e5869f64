package casbin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/asakaida/portaria/internal/entities"
)

func TestGrantRepository_FromFiles(t *testing.T) {
	dir := t.TempDir()
	policy := filepath.Join(dir, "policy.csv")
	if err := os.WriteFile(policy, []byte(
		"p, secretaria, matricula, criar\n"+
			"p, financeiro, boleto, emitir\n"+
			"g, coordenador, secretaria\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	repo, err := NewGrantRepository("", policy)
	if err != nil {
		t.Fatalf("NewGrantRepository() error = %v", err)
	}

	tests := []struct {
		role, resource, action string
		want                   bool
	}{
		{"secretaria", "matricula", "criar", true},
		{"secretaria", "boleto", "emitir", false},
		{"financeiro", "boleto", "emitir", true},
		{"coordenador", "matricula", "criar", true},
		{"aluno", "matricula", "criar", false},
		{"secretaria", "matricula", "excluir", false},
	}
	for _, tt := range tests {
		got, err := repo.HasGrant(context.Background(), tt.role, tt.resource, tt.action)
		if err != nil {
			t.Fatalf("HasGrant() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("HasGrant(%s, %s, %s) = %v, want %v", tt.role, tt.resource, tt.action, got, tt.want)
		}
	}
}

func TestGrantRepository_CustomModelFile(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.conf")
	policy := filepath.Join(dir, "policy.csv")
	if err := os.WriteFile(modelPath, []byte(DefaultModel), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(policy, []byte("p, secretaria, matricula, criar\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	repo, err := NewGrantRepository(modelPath, policy)
	if err != nil {
		t.Fatalf("NewGrantRepository() error = %v", err)
	}
	if ok, _ := repo.HasGrant(context.Background(), "secretaria", "matricula", "criar"); !ok {
		t.Error("HasGrant() = false, want true")
	}
}

func TestGrantRepository_MissingModel(t *testing.T) {
	if _, err := NewGrantRepository(filepath.Join(t.TempDir(), "missing.conf"), "policy.csv"); err == nil {
		t.Error("NewGrantRepository() with missing model should return error")
	}
}

func TestGrantRepository_FromGrants(t *testing.T) {
	repo, err := NewGrantRepositoryFromGrants([]*entities.PermissionGrant{
		{Role: "secretaria", Resource: "certificado", Action: "emitir"},
	})
	if err != nil {
		t.Fatalf("NewGrantRepositoryFromGrants() error = %v", err)
	}
	ctx := context.Background()

	if ok, _ := repo.HasGrant(ctx, "secretaria", "certificado", "emitir"); !ok {
		t.Error("HasGrant() = false, want true")
	}
	if ok, _ := repo.HasGrant(ctx, "diretor", "certificado", "emitir"); ok {
		t.Error("HasGrant(diretor) = true before inheritance, want false")
	}

	if err := repo.AddRoleInheritance("diretor", "secretaria"); err != nil {
		t.Fatalf("AddRoleInheritance() error = %v", err)
	}
	if ok, _ := repo.HasGrant(ctx, "diretor", "certificado", "emitir"); !ok {
		t.Error("HasGrant(diretor) = false after inheritance, want true")
	}

	if err := repo.AddGrant(&entities.PermissionGrant{Resource: "x", Action: "y"}); err == nil {
		t.Error("AddGrant() without role should return error")
	}
}
