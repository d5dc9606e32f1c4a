package billing

import (
	"testing"

	"botgate/db/dbtest"
	"botgate/models"
)

func TestLedger_ChargeIsIdempotent(t *testing.T) {
	database := dbtest.Open(t)
	ledger := NewLedger(database, dbtest.Logger())

	agent := &models.Agent{ID: 7, CreditsPerMessage: 3}
	ev := &models.Event{ID: 42, AgentID: 7, SenderID: 99, Agent: agent}

	charged, err := ledger.Charge(ev)
	if err != nil || !charged {
		t.Fatalf("first charge = %v, %v; want true, nil", charged, err)
	}
	charged, err = ledger.Charge(ev)
	if err != nil || charged {
		t.Fatalf("second charge = %v, %v; want false, nil", charged, err)
	}

	total, err := ledger.Total(7, 99)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
}

func TestLedger_FreeAgentWritesNothing(t *testing.T) {
	database := dbtest.Open(t)
	ledger := NewLedger(database, dbtest.Logger())

	ev := &models.Event{ID: 1, AgentID: 1, SenderID: 1, Agent: &models.Agent{ID: 1}}
	charged, err := ledger.Charge(ev)
	if err != nil || charged {
		t.Fatalf("charge = %v, %v; want false, nil", charged, err)
	}
	var count int
	database.Model(&models.UsageCharge{}).Count(&count)
	if count != 0 {
		t.Fatalf("rows = %d, want 0", count)
	}
}

func TestLedger_ApproveCheckout(t *testing.T) {
	ledger := NewLedger(nil, dbtest.Logger())

	tests := []struct {
		name  string
		agent *models.Agent
		want  bool
	}{
		{"payments enabled", &models.Agent{CreditsPerUnit: 100}, true},
		{"payments disabled", &models.Agent{}, false},
		{"agent missing", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, msg := ledger.ApproveCheckout(&models.Event{Agent: tt.agent})
			if ok != tt.want {
				t.Fatalf("ok = %v, want %v", ok, tt.want)
			}
			if !ok && msg == "" {
				t.Fatal("rejection without message")
			}
		})
	}
}
