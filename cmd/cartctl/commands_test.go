package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/storage/sqlite"
)

func execute(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append([]string{"--db", dbPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func testDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "cart.db")
}

func TestCatalog_FilterByCategory(t *testing.T) {
	out, err := execute(t, testDB(t), "catalog", "--category", "agendas")
	require.NoError(t, err)

	assert.Contains(t, out, "p7")
	assert.Contains(t, out, "A5,A4")
	assert.NotContains(t, out, "p1 ")
}

func TestAdd_PersistsBetweenInvocations(t *testing.T) {
	db := testDB(t)

	out, err := execute(t, db, "add", "p1", "--qty", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "p1_S")
	assert.Contains(t, out, "50.00")

	out, err = execute(t, db, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "p1_S")
	assert.Contains(t, out, "56.00")

	slots, err := sqlite.Open(db)
	require.NoError(t, err)
	defer slots.Close()
	raw, found, err := slots.Read(cart.DefaultSlotKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"p1_S":{"quantity":2,"size":"S"}}`, string(raw))
}

func TestAdd_Rejections(t *testing.T) {
	db := testDB(t)

	_, err := execute(t, db, "add", "p404")
	assert.ErrorContains(t, err, "not found")

	_, err = execute(t, db, "add", "p7", "--qty", "41")
	assert.ErrorContains(t, err, "stock")

	out, err := execute(t, db, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "cart is empty")
}

func TestSetRemoveClear(t *testing.T) {
	db := testDB(t)

	_, err := execute(t, db, "add", "p3", "--qty", "2")
	require.NoError(t, err)
	_, err = execute(t, db, "add", "p7", "--size", "A4")
	require.NoError(t, err)

	out, err := execute(t, db, "set", "p3_Única", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "60.00")

	out, err = execute(t, db, "remove", "p3_Única")
	require.NoError(t, err)
	assert.NotContains(t, out, "p3_Única")
	assert.Contains(t, out, "p7_A4")

	_, err = execute(t, db, "set", "p7_A4", "many")
	assert.ErrorContains(t, err, "whole number")

	_, err = execute(t, db, "set", "p7", "1")
	assert.Error(t, err)

	out, err = execute(t, db, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "cart is empty")
}

func TestCheckout(t *testing.T) {
	db := testDB(t)

	_, err := execute(t, db, "checkout", "--name", "Ana", "--address", "Calle 3", "--phone", "0414")
	assert.ErrorContains(t, err, "empty")

	_, err = execute(t, db, "add", "p1", "--qty", "2")
	require.NoError(t, err)

	_, err = execute(t, db, "checkout", "--name", "Ana")
	assert.ErrorContains(t, err, "address, phone")

	out, err := execute(t, db, "checkout", "--name", "Ana", "--address", "Calle 3", "--phone", "0414")
	require.NoError(t, err)
	assert.Contains(t, out, "confirmed")
	assert.Contains(t, out, "total 56.00")

	out, err = execute(t, db, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "cart is empty")
}

func TestShippingFeeFlag(t *testing.T) {
	db := testDB(t)

	out, err := execute(t, db, "--shipping-fee", "0", "add", "p4")
	require.NoError(t, err)
	assert.Contains(t, out, "15.00")
	assert.NotContains(t, out, "21.00")

	_, err = execute(t, db, "--shipping-fee", "-2", "show")
	assert.ErrorContains(t, err, "shipping fee")
}
